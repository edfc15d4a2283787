/*
Package auth provides API key authentication for the Gatekeeper HTTP API.

Every key has a role. Service keys may ask for admission, record spend and read
limits, budgets and usage. Admin keys may additionally change limit
configurations and budget settings.

	store, err := auth.NewKeyStore([]auth.Key{
		{Name: "bench-runner", Key: os.Getenv("RUNNER_KEY"), Role: auth.RoleService},
		{Name: "ops", Key: os.Getenv("OPS_KEY"), Role: auth.RoleAdmin},
	})

	mw := auth.NewMiddleware(store, auth.DefaultSources, logger)
	r.Use(mw.Authenticate)
	r.With(auth.RequireRole(auth.RoleAdmin)).Put("/v1/limits/{environment}/{endpoint}", h)

Keys are looked up by their SHA-256 digest; the raw key is not kept in memory
after the store is built. Replace swaps the whole key set, which is how a
configuration reload rotates keys.
*/
package auth
