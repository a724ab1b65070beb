package main

import (
	"os"
	"os/exec"

	"github.com/goyek/goyek/v2"
)

func gocmd(a *goyek.A, args ...string) {
	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		a.Error(err)
	}
}

var vet = goyek.Define(goyek.Task{
	Name:  "vet",
	Usage: "Run go vet on all packages",
	Action: func(a *goyek.A) {
		gocmd(a, "vet", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "Run the tests with the race detector",
	Action: func(a *goyek.A) {
		gocmd(a, "test", "-race", "./...")
	},
})

var short = goyek.Define(goyek.Task{
	Name:  "test-short",
	Usage: "Run the tests, skipping hardware sampling",
	Action: func(a *goyek.A) {
		gocmd(a, "test", "-short", "./...")
	},
})

var goldens = goyek.Define(goyek.Task{
	Name:  "update-golden",
	Usage: "Regenerate golden files",
	Action: func(a *goyek.A) {
		gocmd(a, "test", "./internal/neptune/...", "-update")
	},
})

var all = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "Vet and test",
	Deps:  goyek.Deps{vet, test},
})

func main() {
	goyek.SetDefault(all)
	goyek.Main(os.Args[1:])
}
