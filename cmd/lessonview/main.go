// Command lessonview serves, previews and checks interactive lessons.
package main

import (
	"os"

	"github.com/livetemplate/lessonview/cmd/lessonview/commands"
)

func main() {
	os.Exit(commands.Main())
}
