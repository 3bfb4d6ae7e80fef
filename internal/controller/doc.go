// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package controller assembles the workflow server.

The Controller wires the subsystems together:

  - Backend: persists templates, identities and instances (memory, SQLite
    or PostgreSQL)
  - Cache: read-through TTL caches for templates and identities
  - Seed: loads identities and templates from a YAML file, optionally
    reloading it when it changes
  - Runner: the instance lifecycle (start, submit, cancel, get, list)
  - API: the HTTP surface with authentication, logging, tracing and metrics

# Usage

	cfg, _ := config.Load(config.ResolvePath(""))
	c, err := controller.New(cfg, controller.Options{Version: "1.0.0"})
	if err != nil {
	    log.Fatal(err)
	}

	// Start blocks until the server stops
	go func() {
	    if err := c.Start(ctx); err != nil {
	        log.Fatal(err)
	    }
	}()

	// Graceful shutdown
	c.Shutdown(context.Background())
*/
package controller
