package core

import (
	"fmt"
	"strings"
)

// DatasetType identifies the shape of a reference dataset.
type DatasetType uint8

const (
	DatasetIPSet DatasetType = iota + 1
	DatasetIPMap
	DatasetIPMapList
	DatasetIPNet
	DatasetGeoIP
	DatasetTextMap
	DatasetTextMapList
	DatasetTextSet
	DatasetCalendar
	DatasetI18n
	DatasetRuleCatalog
)

var datasetTypeNames = map[DatasetType]string{
	DatasetIPSet:       "ip_set",
	DatasetIPMap:       "ip_map",
	DatasetIPMapList:   "ip_map_list",
	DatasetIPNet:       "ip_net",
	DatasetGeoIP:       "geo_ip",
	DatasetTextMap:     "text_map",
	DatasetTextMapList: "text_map_list",
	DatasetTextSet:     "text_set",
	DatasetCalendar:    "calendar",
	DatasetI18n:        "i18n",
	DatasetRuleCatalog: "rule_catalog",
}

// String returns the canonical name of the dataset type
func (t DatasetType) String() string {
	if name, ok := datasetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("dataset_type(%d)", uint8(t))
}

// IsValid reports whether t is a known dataset type
func (t DatasetType) IsValid() bool {
	_, ok := datasetTypeNames[t]
	return ok
}

// ParseDatasetType parses the canonical name of a dataset type
func ParseDatasetType(s string) (DatasetType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range datasetTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown dataset type %q", s)
}

// DatasetKind is the identity of one dataset instance. Several instances of the
// same type are told apart by Name (e.g. two IP sets "block_ip" and "tor_exit").
// DatasetKind is comparable and can be used as a map key.
type DatasetKind struct {
	Type DatasetType
	Name string
}

// Well-known dataset kinds
var (
	KindGeoIP        = DatasetKind{Type: DatasetGeoIP}
	KindI18n         = DatasetKind{Type: DatasetI18n}
	KindRules        = DatasetKind{Type: DatasetRuleCatalog}
	KindBlockIP      = DatasetKind{Type: DatasetIPSet, Name: "block_ip"}
	KindBlockDomain  = DatasetKind{Type: DatasetTextSet, Name: "block_domain"}
	KindBlockCountry = DatasetKind{Type: DatasetTextSet, Name: "block_country"}
	KindWorkHours    = DatasetKind{Type: DatasetCalendar, Name: "work_hours"}
)

// String renders the kind as "type" or "type:name"
func (k DatasetKind) String() string {
	if k.Name == "" {
		return k.Type.String()
	}
	return k.Type.String() + ":" + k.Name
}

// Compare orders kinds by type, then by name. It returns -1, 0 or +1.
func (k DatasetKind) Compare(other DatasetKind) int {
	switch {
	case k.Type < other.Type:
		return -1
	case k.Type > other.Type:
		return 1
	}
	return strings.Compare(k.Name, other.Name)
}

// ParseDatasetKind parses "type" or "type:name"
func ParseDatasetKind(s string) (DatasetKind, error) {
	typ, name, _ := strings.Cut(strings.TrimSpace(s), ":")
	t, err := ParseDatasetType(typ)
	if err != nil {
		return DatasetKind{}, err
	}
	return DatasetKind{Type: t, Name: strings.TrimSpace(name)}, nil
}

// MarshalText implements encoding.TextMarshaler
func (k DatasetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *DatasetKind) UnmarshalText(text []byte) error {
	parsed, err := ParseDatasetKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
