package changes

import (
	"encoding/json"

	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

type envelope struct {
	TypeName   string          `json:"typeName"`
	Assembly   string          `json:"assembly"`
	AssemblyID string          `json:"assemblyId"`
	ChangedIDs []string        `json:"changedIds"`
	Changes    json.RawMessage `json:"changes"`
}

// Decode parses the wire form of a change. Unknown type names fail with
// domain.ErrUnknownChangeType; structurally invalid payloads with
// domain.ErrMalformedChange.
func Decode(data []byte) (Change, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode change"), domain.ErrMalformedChange)
	}
	if env.TypeName == "" {
		return nil, malformed("change has no typeName")
	}
	assemblyID := env.Assembly
	if assemblyID == "" {
		assemblyID = env.AssemblyID
	}
	if assemblyID == "" {
		return nil, malformed("%s has no assembly", env.TypeName)
	}

	var (
		c   Change
		err error
	)
	switch env.TypeName {
	case TypeLocationStart:
		c, err = decodeFeatureChange(data, env, assemblyID, func(h Header, items []LocationStartItem) Change {
			return LocationStartChange{Header: h, Items: items}
		}, func(i LocationStartItem) string { return i.FeatureID })
	case TypeLocationEnd:
		c, err = decodeFeatureChange(data, env, assemblyID, func(h Header, items []LocationEndItem) Change {
			return LocationEndChange{Header: h, Items: items}
		}, func(i LocationEndItem) string { return i.FeatureID })
	case TypeFeatureAttribute:
		c, err = decodeFeatureChange(data, env, assemblyID, func(h Header, items []FeatureAttributeItem) Change {
			return FeatureAttributeChange{Header: h, Items: items}
		}, func(i FeatureAttributeItem) string { return i.FeatureID })
	case TypeType:
		c, err = decodeFeatureChange(data, env, assemblyID, func(h Header, items []TypeItem) Change {
			return TypeChange{Header: h, Items: items}
		}, func(i TypeItem) string { return i.FeatureID })
	case TypeStrand:
		c, err = decodeFeatureChange(data, env, assemblyID, func(h Header, items []StrandItem) Change {
			return StrandChange{Header: h, Items: items}
		}, func(i StrandItem) string { return i.FeatureID })
	case TypeAddFeature:
		c, err = decodeFeatureChange(data, env, assemblyID, func(h Header, items []AddFeatureItem) Change {
			return AddFeatureChange{Header: h, Items: items}
		}, func(i AddFeatureItem) string { return i.AddedFeature.ID })
	case TypeDeleteFeature:
		c, err = decodeFeatureChange(data, env, assemblyID, func(h Header, items []DeleteFeatureItem) Change {
			return DeleteFeatureChange{Header: h, Items: items}
		}, func(i DeleteFeatureItem) string { return i.FeatureID })
	case TypeAddAssemblyFromFile:
		var item addFromFileItem
		if item, err = decodeSingle[addFromFileItem](data, env); err == nil {
			c = AddAssemblyFromFileChange{
				Header:       assemblyHeader(env, assemblyID),
				AssemblyName: item.AssemblyName,
				FileID:       item.FileID,
			}
		}
	case TypeAddAssemblyFromExternal:
		var item addFromExternalItem
		if item, err = decodeSingle[addFromExternalItem](data, env); err == nil {
			c = AddAssemblyFromExternalChange{
				Header:           assemblyHeader(env, assemblyID),
				AssemblyName:     item.AssemblyName,
				ExternalLocation: item.ExternalLocation,
				RefSeqs:          item.RefSeqs,
			}
		}
	case TypeDeleteAssembly:
		c = DeleteAssemblyChange{Header: assemblyHeader(env, assemblyID)}
	default:
		return nil, errors.Wrapf(domain.ErrUnknownChangeType, "%q", env.TypeName)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode returns the wire form of c.
func Encode(c Change) ([]byte, error) {
	if c == nil {
		return nil, malformed("nil change")
	}
	return c.MarshalJSON()
}

func decodeFeatureChange[T any](data []byte, env envelope, assemblyID string, build func(Header, []T) Change, id func(T) string) (Change, error) {
	items, err := decodeItems[T](data, env)
	if err != nil {
		return nil, err
	}
	// Wire changedIds are kept as sent; Validate rejects them when they
	// disagree with the items.
	changed := env.ChangedIDs
	if len(changed) == 0 {
		changed = itemIDs(items, id)
	}
	return build(Header{Assembly: assemblyID, Changed: changed}, items), nil
}

func decodeItems[T any](data []byte, env envelope) ([]T, error) {
	if len(env.Changes) > 0 && string(env.Changes) != "null" {
		var items []T
		if err := json.Unmarshal(env.Changes, &items); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "decode %s items", env.TypeName), domain.ErrMalformedChange)
		}
		return items, nil
	}
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode %s", env.TypeName), domain.ErrMalformedChange)
	}
	return []T{item}, nil
}

// decodeSingle accepts the flat form or a "changes" array of exactly one item.
func decodeSingle[T any](data []byte, env envelope) (T, error) {
	var zero T
	items, err := decodeItems[T](data, env)
	if err != nil {
		return zero, err
	}
	if len(items) != 1 {
		return zero, malformed("%s carries %d items, expected 1", env.TypeName, len(items))
	}
	return items[0], nil
}

func assemblyHeader(env envelope, assemblyID string) Header {
	changed := env.ChangedIDs
	if len(changed) == 0 {
		changed = []string{assemblyID}
	}
	return Header{Assembly: assemblyID, Changed: changed}
}
