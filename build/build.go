package build

var (
	Name    = "cctree"
	Version = "v0.0.1+dev"
)
