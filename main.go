package main

import (
	"log"
	"time"

	_ "github.com/LunarVowCrimsonLove/MoeVault-sub001/docs"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cmd"
)

// @title                       MoeVault API
// @version                     1.0
// @description                 Image hosting with pluggable storage backends.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization

func init() {
	var cstZone = time.FixedZone("CST", 8*3600) // 东八
	time.Local = cstZone
}

func main() {
	log.Printf("%s %s (%s)", config.AppName, config.Version, config.CommitHash)
	cmd.Execute()
}
