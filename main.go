package main

import (
	"github.com/crm/app/cmd"
)

// @title Boilerplate API
// @version 1.0
// @description This is a simple boilerplate API server with user authentication.

// @host  localhost:8000
// @BasePath /api/v1

func main() {
	cmd.StartApp()
}
