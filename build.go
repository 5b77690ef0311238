//go:build ignore

// build.go - licensesrv build script
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: build, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	binary  = "licensesrv"
	mainPkg = "./cmd/licensesrv"
)

// releaseTargets are the GOOS/GOARCH pairs built by the release target.
var releaseTargets = [][2]string{
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"darwin", "arm64"},
	{"windows", "amd64"},
}

var (
	distDir = "dist"

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "build", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	start := time.Now()
	var err error
	switch *target {
	case "build":
		err = build(runtime.GOOS, runtime.GOARCH, *verbose)
	case "test":
		err = runTests(*verbose)
	case "clean":
		err = os.RemoveAll(distDir)
	case "release":
		err = release(*verbose)
	default:
		err = fmt.Errorf("unknown target %q", *target)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("%s finished in %s", *target, time.Since(start).Round(time.Millisecond)))
}

func printInfo(msg string)    { fmt.Printf("%s[INFO]%s %s\n", colorCyan, colorReset, msg) }
func printSuccess(msg string) { fmt.Printf("%s[OK]%s %s\n", colorGreen, colorReset, msg) }
func printError(msg string)   { fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg) }

// build compiles a static binary into dist/<goos>_<goarch>/.
func build(goos, goarch string, verbose bool) error {
	name := binary
	if goos == "windows" {
		name += ".exe"
	}
	out := filepath.Join(distDir, goos+"_"+goarch, name)
	printInfo(fmt.Sprintf("building %s", out))

	args := []string{"build", "-trimpath", "-ldflags", "-s -w", "-o", out}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, mainPkg)

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS="+goos, "GOARCH="+goarch)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s/%s: %w", goos, goarch, err)
	}
	return nil
}

func runTests(verbose bool) error {
	printInfo("running Go tests")
	args := []string{"test", "-race"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func release(verbose bool) error {
	if err := os.RemoveAll(distDir); err != nil {
		return err
	}
	for _, t := range releaseTargets {
		if err := build(t[0], t[1], verbose); err != nil {
			return err
		}
	}
	return nil
}
