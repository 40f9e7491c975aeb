package authhook

import (
	"context"
	"fmt"

	"github.com/erauner12/datasync/internal/auth"
	"github.com/erauner12/datasync/internal/entity"
	"github.com/erauner12/datasync/internal/odata"
)

// OwnerScoped is the JWT-backed example Hook: it authorizes any request
// carrying a subject (attached to ctx by auth.Middleware) and restricts
// every query and read/write to rows whose OwnerField matches that
// subject. New rows get OwnerField stamped automatically in PreCommit.
type OwnerScoped struct {
	OwnerField string // defaults to "ownerId" if empty
}

var _ Hook = OwnerScoped{}

func (o OwnerScoped) field() string {
	if o.OwnerField == "" {
		return "ownerId"
	}
	return o.OwnerField
}

func (o OwnerScoped) IsAuthorized(ctx context.Context, tableName string, op Operation, ent *entity.Record) (bool, error) {
	subject := auth.Subject(ctx)
	if subject == "" {
		return false, nil
	}
	if ent == nil {
		return true, nil
	}
	owner, _ := ent.Get(o.field())
	if owner == "" || owner == nil {
		// Unowned row (e.g. not yet committed on Add): allow, PreCommit stamps it.
		return true, nil
	}
	return owner == subject, nil
}

func (o OwnerScoped) DataView(ctx context.Context, tableName string) (odata.Node, error) {
	subject := auth.Subject(ctx)
	if subject == "" {
		return nil, fmt.Errorf("authhook: no authenticated subject in context")
	}
	return odata.BinaryNode{
		Op:    "eq",
		Left:  odata.MemberAccessNode{Name: o.field()},
		Right: odata.ConstantNode{Value: subject, EdmType: "String"},
	}, nil
}

func (o OwnerScoped) PreCommit(ctx context.Context, tableName string, op Operation, ent *entity.Record) error {
	if op != OpAdd || ent == nil {
		return nil
	}
	subject := auth.Subject(ctx)
	if subject == "" {
		return fmt.Errorf("authhook: no authenticated subject in context")
	}
	if _, ok := ent.Get(o.field()); !ok {
		ent.Fields[o.field()] = subject
	}
	return nil
}

func (o OwnerScoped) PostCommit(context.Context, string, Operation, *entity.Record) {}
