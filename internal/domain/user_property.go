package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type UserPropertyDefinitionType string

const (
	UserPropertyID            UserPropertyDefinitionType = "Id"
	UserPropertyAnonymousID   UserPropertyDefinitionType = "AnonymousId"
	UserPropertyTrait         UserPropertyDefinitionType = "Trait"
	UserPropertyPerformed     UserPropertyDefinitionType = "Performed"
	UserPropertyPerformedMany UserPropertyDefinitionType = "PerformedMany"
)

// UserPropertyDefinition is one of IDUserProperty, AnonymousIDUserProperty,
// TraitUserProperty, PerformedUserProperty or PerformedManyUserProperty.
type UserPropertyDefinition interface {
	UserPropertyType() UserPropertyDefinitionType
	isUserPropertyDefinition()
}

type IDUserProperty struct{}

type AnonymousIDUserProperty struct{}

type TraitUserProperty struct {
	Path string `json:"path"`
}

type PerformedUserProperty struct {
	Event string `json:"event"`
	Path  string `json:"path"`
}

type PerformedManyUserProperty struct {
	Events []string `json:"events"`
}

func (IDUserProperty) UserPropertyType() UserPropertyDefinitionType          { return UserPropertyID }
func (AnonymousIDUserProperty) UserPropertyType() UserPropertyDefinitionType { return UserPropertyAnonymousID }
func (TraitUserProperty) UserPropertyType() UserPropertyDefinitionType       { return UserPropertyTrait }
func (PerformedUserProperty) UserPropertyType() UserPropertyDefinitionType   { return UserPropertyPerformed }
func (PerformedManyUserProperty) UserPropertyType() UserPropertyDefinitionType {
	return UserPropertyPerformedMany
}

func (IDUserProperty) isUserPropertyDefinition()            {}
func (AnonymousIDUserProperty) isUserPropertyDefinition()   {}
func (TraitUserProperty) isUserPropertyDefinition()         {}
func (PerformedUserProperty) isUserPropertyDefinition()     {}
func (PerformedManyUserProperty) isUserPropertyDefinition() {}

// UserProperty is a stored user property resource.
type UserProperty struct {
	ID          string
	WorkspaceID string
	Name        string
	Definition  UserPropertyDefinition
	UpdatedAt   time.Time
}

// Version returns the definition version used for state ids and periods.
func (u *UserProperty) Version() string {
	return DefinitionVersion(u.ID, u.UpdatedAt)
}

// ParseUserPropertyDefinition decodes a stored user property definition.
func ParseUserPropertyDefinition(raw []byte) (UserPropertyDefinition, error) {
	var head struct {
		Type UserPropertyDefinitionType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}

	switch head.Type {
	case UserPropertyID:
		return IDUserProperty{}, nil
	case UserPropertyAnonymousID:
		return AnonymousIDUserProperty{}, nil
	case UserPropertyTrait:
		var def TraitUserProperty
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
		if def.Path == "" {
			return nil, fmt.Errorf("%w: trait user property requires a path", ErrMalformedDefinition)
		}
		return def, nil
	case UserPropertyPerformed:
		var def PerformedUserProperty
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
		if def.Event == "" || def.Path == "" {
			return nil, fmt.Errorf("%w: performed user property requires an event and a path", ErrMalformedDefinition)
		}
		return def, nil
	case UserPropertyPerformedMany:
		var def PerformedManyUserProperty
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
		if len(def.Events) == 0 {
			return nil, fmt.Errorf("%w: performed many user property requires events", ErrMalformedDefinition)
		}
		return def, nil
	default:
		return nil, fmt.Errorf("%w: unknown user property type %q", ErrMalformedDefinition, head.Type)
	}
}

// MarshalUserPropertyDefinition encodes def with its type discriminator.
func MarshalUserPropertyDefinition(def UserPropertyDefinition) ([]byte, error) {
	return marshalTagged(string(def.UserPropertyType()), def)
}

// PropertyString returns a stored user property value as plain text, with
// JSON string quoting removed.
func PropertyString(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	return raw
}

// marshalTagged encodes v as a JSON object with an added "type" field.
func marshalTagged(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeJSON, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	return json.Marshal(fields)
}
