// Command titlectl names browser windows through a running titlesync.
package main

import "github.com/dgnsrekt/titlesync/internal/cli"

func main() {
	cli.Execute()
}
