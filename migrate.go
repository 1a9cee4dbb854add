package main

// runMigrate opens the read replica and the persistent dedup store, which
// brings both schemas up to date.
func runMigrate(options Options, cfg *Config) error {
	replica, err := openReplica(options.DataDir, cfg)
	if err != nil {
		return err
	}
	defer replica.Close()
	logger.Infof("Read replica schema is up to date (%s, network %s).", cfg.Database.Driver, replica.Network())

	if cfg.Mempool.Store == "memory" {
		return nil
	}
	store, err := openMempool(cfg.Mempool.Store, options.DataDir, cfg)
	if err != nil {
		return err
	}
	logger.Info("Dedup store schema is up to date.")
	return store.Close()
}
