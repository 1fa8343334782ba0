// The main package for the essayhelper executable.
package main

import (
	"github.com/TeacherLi07/essayhelper/cmd"
)

func main() {
	cmd.Execute()
}
