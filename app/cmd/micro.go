package cmd

import (
	"github.com/crm/pkg/config"
	"github.com/crm/pkg/database"
	"github.com/crm/pkg/server"
	"github.com/crm/pkg/utils"
)

func StartApp() {
	utils.LoadEnv()
	cfg := config.InitConfig()
	database.InitDB(cfg.Database)
	server.LaunchHttpServer(cfg)
}
