package system

// Version is the build version, set through -ldflags at release time.
var Version = "develop"
