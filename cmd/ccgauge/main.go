package main

// Version information, injected at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	setVersion(Version, Commit, Date)
	execute()
}
