//go:build linux

package system

import "github.com/acobaugh/osrelease"

func getOperatingSystemName() string {
	release, err := osrelease.Read()
	if err != nil {
		return "Linux"
	}

	if release["PRETTY_NAME"] != "" {
		return release["PRETTY_NAME"]
	} else if release["NAME"] != "" {
		return release["NAME"]
	}
	return "Linux"
}
