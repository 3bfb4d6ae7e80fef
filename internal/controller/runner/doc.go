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
Package runner provides the workflow instance lifecycle.

The Runner starts instances of published templates, accepts step
submissions, evaluates the current step's business rules, and advances,
completes or cancels instances. Every operation returns an immutable
Snapshot or a typed error from pkg/errors.

# Usage

	r := runner.New(runner.Config{
	    AdminRole:       "ADMIN",
	    MaxFormDataSize: 50000,
	}, store)

	snap, err := r.Start(ctx, templateID, "alice")
	snap, err = r.Submit(ctx, snap.ID, "alice", map[string]any{"amount": 500})

# Concurrency

The Runner holds no per-instance state. Each mutation is written with
InstanceStore.UpdateInstance, which rejects a stale version with a
ConflictError; the losing caller is not retried because the step it
submitted against may have moved.

# Access

AccessGuard lets the assignee and the initiator act on an instance without
any lookup. Anyone else needs the configured administrator role.
*/
package runner
