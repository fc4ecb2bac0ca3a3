package dataset

import (
	"fmt"

	"argus/core"
)

// New creates an empty handle for kind, choosing the snapshot type from
// kind.Type.
func New(kind core.DatasetKind, opts HandleOptions) (Dataset, error) {
	switch kind.Type {
	case core.DatasetIPSet:
		return NewIPSetHandle(kind, opts), nil
	case core.DatasetIPMap:
		return NewIPMapHandle(kind, opts), nil
	case core.DatasetIPMapList:
		return NewIPMapListHandle(kind, opts), nil
	case core.DatasetIPNet:
		return NewIPNetHandle[string](kind, opts), nil
	case core.DatasetGeoIP:
		return NewIPNetHandle[GeoIPInfo](kind, opts), nil
	case core.DatasetTextMap:
		return NewTextMapHandle(kind, opts), nil
	case core.DatasetTextMapList:
		return NewTextMapListHandle(kind, opts), nil
	case core.DatasetTextSet:
		return NewTextSetHandle(kind, opts), nil
	case core.DatasetCalendar:
		return NewCalendarHandle(kind, opts), nil
	case core.DatasetI18n:
		return NewHandle[I18n, I18nEntry](kind, NewI18n(), ApplyI18n, opts), nil
	case core.DatasetRuleCatalog:
		return NewHandle[RuleCatalog, *core.SiemRule](kind, NewRuleCatalog(), ApplyRuleCatalog, opts), nil
	}
	return nil, fmt.Errorf("unknown dataset type %s", kind.Type)
}
