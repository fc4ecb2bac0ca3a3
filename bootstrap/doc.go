// Package bootstrap assembles an argus process from its configuration and
// manages its lifecycle.
//
// Usage:
//
//	_, sugar, _ := bootstrap.InitLogger("info")
//	cfg, err := bootstrap.InitConfig(path, sugar)
//	...
//	app, err := bootstrap.NewApp(ctx, cfg, sugar.Desugar())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	go consume(app.Alerts)
//	app.WaitForShutdown()
package bootstrap
