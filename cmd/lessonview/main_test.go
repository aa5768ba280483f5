package main

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/livetemplate/lessonview/cmd/lessonview/commands"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"lessonview": func() { os.Exit(commands.Main()) },
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
	})
}
