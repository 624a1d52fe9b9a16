package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/printlot-io/printlot/cmd/printlot-server/app"
)

func main() {
	app.NewApp().Run()
}
