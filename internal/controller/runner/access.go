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

package runner

import (
	"context"

	"github.com/keduman/workflow-app/internal/controller/backend"
	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// AccessGuard decides whether an actor may read or act on an instance.
type AccessGuard struct {
	identities backend.IdentityStore
	adminRole  string
}

// NewAccessGuard creates a guard that resolves roles through identities.
// An empty adminRole falls back to workflow.DefaultAdminRole.
func NewAccessGuard(identities backend.IdentityStore, adminRole string) *AccessGuard {
	if adminRole == "" {
		adminRole = workflow.DefaultAdminRole
	}
	return &AccessGuard{identities: identities, adminRole: adminRole}
}

// CanAccess returns nil when actor is the instance's assignee or initiator,
// or holds the administrator role. The identity lookup only happens for the
// administrator case. Unknown actors get a ForbiddenError; store failures
// are returned as they are.
func (g *AccessGuard) CanAccess(ctx context.Context, inst *workflow.Instance, actor string) error {
	denied := &errors.ForbiddenError{Actor: actor, Resource: "instance", ID: inst.ID}
	if actor == "" {
		return denied
	}
	if actor == inst.Assignee || actor == inst.InitiatedBy {
		return nil
	}

	id, err := g.identities.GetIdentity(ctx, actor)
	if err != nil {
		var notFound *errors.NotFoundError
		if errors.As(err, &notFound) {
			return denied
		}
		return errors.Wrap(err, "resolving actor roles")
	}
	if id.HasRole(g.adminRole) {
		return nil
	}
	return denied
}
