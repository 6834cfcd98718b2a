package docsession

import (
	"context"

	"github.com/rakunlabs/quillcore/pkg/delta"
	"github.com/rakunlabs/quillcore/pkg/rpc"
)

var documentSchema = rpc.NewSchemaBuilder(&Document{}).
	Method(rpc.MethodSpec{
		Name:           "snapshot",
		ResultLoggable: false,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			version, data, err := recv.(*Document).Snapshot(ctx)
			if err != nil {
				return nil, err
			}
			return []any{version, data}, nil
		},
	}).
	Method(rpc.MethodSpec{
		Name:           "applyDelta",
		ArgsLoggable:   []bool{true, false},
		ResultLoggable: false,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			baseVersion, d, err := argsToVersionDelta(args)
			if err != nil {
				return nil, err
			}
			version, correction, err := recv.(*Document).ApplyDelta(ctx, baseVersion, d)
			if err != nil {
				return nil, err
			}
			return []any{version, correction}, nil
		},
	}).
	Method(rpc.MethodSpec{
		Name:           "deltaAfter",
		ArgsLoggable:   []bool{true},
		ResultLoggable: false,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			baseVersion, err := argToVersion(args)
			if err != nil {
				return nil, err
			}
			version, d, err := recv.(*Document).DeltaAfter(ctx, baseVersion)
			if err != nil {
				return nil, err
			}
			return []any{version, d}, nil
		},
	}).
	Build()

func argToVersion(args []any) (int, error) {
	if len(args) < 1 {
		return 0, rpc.ErrBadUse("missing baseVersion argument")
	}
	switch v := args[0].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, rpc.ErrBadValue(args[0], "baseVersion")
	}
}

func argsToVersionDelta(args []any) (int, delta.Delta, error) {
	version, err := argToVersion(args)
	if err != nil {
		return 0, nil, err
	}
	var d delta.Delta
	if len(args) > 1 && args[1] != nil {
		dd, ok := args[1].(delta.Delta)
		if !ok {
			return 0, nil, rpc.ErrBadValue(args[1], "delta")
		}
		d = dd
	}
	return version, d, nil
}

func init() {
	rpc.RegisterSchema(&Document{}, documentSchema)
}

// Schema returns the shared Schema for Document, for callers that
// pre-register a Document as a plain Target instead of relying on
// ProxiedObject lifecycle.
func Schema() rpc.Schema { return documentSchema }
