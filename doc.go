// Package boatrace provides the HTTP client for the Wave Predictor boat-race
// prediction API.
//
// The package offers:
// 1. A paced JSON client whose successful GET responses are cached and served
// back when the backend fails within the cache window
// 2. Typed helpers for every backend endpoint (venues, races, entries,
// predictions and status)
// 3. Connectivity tracking with an offline request queue
//
// Basic usage:
//
//	client := boatrace.NewClient("https://api.example.com/api",
//		boatrace.WithPacing(time.Second),
//		boatrace.WithCacheWindow(5*time.Minute))
//	venues, err := client.Venues(context.Background())
//
// Refresh scheduling lives in package refresh.
package boatrace
