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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
)

// stubIdentities counts lookups and serves a fixed set of identities.
type stubIdentities struct {
	identities map[string]*workflow.Identity
	err        error
	lookups    int
}

func (s *stubIdentities) GetIdentity(ctx context.Context, username string) (*workflow.Identity, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	id, ok := s.identities[username]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "identity", ID: username}
	}
	return id, nil
}

func TestAccessGuard(t *testing.T) {
	inst := &workflow.Instance{ID: "inst-1", Assignee: "alice", InitiatedBy: "ivan"}

	tests := []struct {
		name        string
		actor       string
		adminRole   string
		wantAllowed bool
		wantLookups int
	}{
		{name: "assignee", actor: "alice", wantAllowed: true, wantLookups: 0},
		{name: "initiator", actor: "ivan", wantAllowed: true, wantLookups: 0},
		{name: "admin case-insensitive", actor: "root", wantAllowed: true, wantLookups: 1},
		{name: "plain user", actor: "bob", wantAllowed: false, wantLookups: 1},
		{name: "unknown actor", actor: "mallory", wantAllowed: false, wantLookups: 1},
		{name: "empty actor", actor: "", wantAllowed: false, wantLookups: 0},
		{name: "custom admin role", actor: "audrey", adminRole: "Auditor", wantAllowed: true, wantLookups: 1},
		{name: "default role not granted under custom role", actor: "root", adminRole: "Auditor", wantAllowed: false, wantLookups: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := &stubIdentities{identities: map[string]*workflow.Identity{
				"root":   {Username: "root", Roles: []string{"user", "admin"}},
				"bob":    {Username: "bob", Roles: []string{"USER"}},
				"audrey": {Username: "audrey", Roles: []string{"AUDITOR"}},
			}}
			guard := NewAccessGuard(ids, tt.adminRole)

			err := guard.CanAccess(context.Background(), inst, tt.actor)
			if tt.wantAllowed {
				assert.NoError(t, err)
			} else {
				var forbidden *errors.ForbiddenError
				require.ErrorAs(t, err, &forbidden)
				assert.Equal(t, "inst-1", forbidden.ID)
				assert.Equal(t, tt.actor, forbidden.Actor)
			}
			assert.Equal(t, tt.wantLookups, ids.lookups)
		})
	}
}

func TestAccessGuard_StoreFailure(t *testing.T) {
	ids := &stubIdentities{err: fmt.Errorf("connection refused")}
	guard := NewAccessGuard(ids, "")

	err := guard.CanAccess(context.Background(), &workflow.Instance{ID: "i", Assignee: "alice", InitiatedBy: "alice"}, "bob")
	require.Error(t, err)

	var forbidden *errors.ForbiddenError
	assert.False(t, errors.As(err, &forbidden), "lookup failures are not denials")
	assert.Contains(t, err.Error(), "connection refused")
}
