package main

import (
	"flag"
	"fmt"
)

// Global constants.
const (
	appName           = "certmgrd"
	defaultListenAddr = ":8450"
)

// Version information, set at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Flag name constants.
const (
	configFlag       = "config"
	helpFlag         = "help"
	sampleConfigFlag = "sampleconfig"
	versionFlag      = "version"
)

// Flags.
var (
	fConfig       = flag.String(configFlag, "", "")
	fHelp         = flag.Bool(helpFlag, false, "")
	fSampleConfig = flag.Bool(sampleConfigFlag, false, "")
	fVersion      = flag.Bool(versionFlag, false, "")
)

// usage outputs usage information.
func usage() {
	fmt.Printf("usage: %s [options]\n", appName)
	fmt.Println()
	fmt.Printf("%s manages the certificate lifecycle for the TaxPoynt\n", appName)
	fmt.Printf("e-invoicing platform: key generation, certificate issuance,\n")
	fmt.Printf("storage, CA integration, renewal and revocation.\n")
	fmt.Println()
	const fw = 16
	fmt.Println("Options:")
	fmt.Printf("    -%-*s path to configuration file\n", fw, configFlag+" <path>")
	fmt.Printf("    -%-*s show this usage information\n", fw, helpFlag)
	fmt.Printf("    -%-*s output a sample configuration file\n", fw, sampleConfigFlag)
	fmt.Printf("    -%-*s show version information\n", fw, versionFlag)
	fmt.Println()
}

// printVersion outputs version information.
func printVersion() {
	fmt.Printf("%s %s (commit: %s)\n", appName, version, commit)
}
