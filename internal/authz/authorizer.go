// Package authz evaluates grant-management authority with Cedar policies.
package authz

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/cedar-policy/cedar-go"
	"github.com/google/uuid"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/service/access"
	"github.com/santetogo/records-api/pkg/auth"
)

//go:embed policies/access.cedar
var defaultPolicies []byte

const (
	userType   = "SanteTogo::User"
	actionType = "SanteTogo::Action"
)

// Authorizer implements access.Authority on top of a Cedar policy set.
type Authorizer struct {
	policySet *cedar.PolicySet
}

var _ access.Authority = (*Authorizer)(nil)

// NewAuthorizer parses the embedded policies.
func NewAuthorizer() (*Authorizer, error) {
	return NewAuthorizerFromBytes("access.cedar", defaultPolicies)
}

func NewAuthorizerFromBytes(name string, policies []byte) (*Authorizer, error) {
	ps, err := cedar.NewPolicySetFromBytes(name, policies)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policies: %w", err)
	}
	return &Authorizer{policySet: ps}, nil
}

// Authorize answers whether actorID may run action on the grants of subject.
// The role comes from the request actor and is only trusted when that actor
// is actorID; otherwise the principal carries no role.
func (a *Authorizer) Authorize(ctx context.Context, action access.Action, actorID uuid.UUID, subject *access.Subject) (bool, error) {
	role := ""
	if actor, ok := auth.ActorFromContext(ctx); ok && actor.UserID == actorID {
		role = string(actor.Role)
	}

	entities, err := buildEntities(actorID, role, subject)
	if err != nil {
		return false, err
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID(userType, cedar.String(actorID.String())),
		Action:    cedar.NewEntityUID(actionType, cedar.String(string(action))),
		Resource:  cedar.NewEntityUID(resourceType(subject.Type), cedar.String(subject.ID.String())),
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}

	decision, _ := a.policySet.IsAuthorized(entities, req)
	return decision == cedar.Allow, nil
}

func resourceType(t model.SubjectType) cedar.EntityType {
	if t == model.SubjectTypeMedicalRecord {
		return "SanteTogo::MedicalRecord"
	}
	return "SanteTogo::Document"
}

func entityRef(typ cedar.EntityType, id string) map[string]interface{} {
	return map[string]interface{}{
		"__entity": map[string]string{"type": string(typ), "id": id},
	}
}

func buildEntities(actorID uuid.UUID, role string, subject *access.Subject) (cedar.EntityMap, error) {
	raw := []map[string]interface{}{
		{
			"uid":     map[string]string{"type": userType, "id": actorID.String()},
			"attrs":   map[string]interface{}{"role": role},
			"parents": []interface{}{},
		},
		{
			"uid": map[string]string{"type": string(resourceType(subject.Type)), "id": subject.ID.String()},
			"attrs": map[string]interface{}{
				"owner":    entityRef(userType, subject.OwnerID.String()),
				"uploader": entityRef(userType, subject.UploaderID.String()),
			},
			"parents": []interface{}{},
		},
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entities: %w", err)
	}
	var entities cedar.EntityMap
	if err := json.Unmarshal(b, &entities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
	}
	return entities, nil
}
