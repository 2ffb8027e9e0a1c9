package domain

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Metadata keys shared by intent creation and webhook parsing. The version
// key lets the parser reject payloads written under a different contract.
const (
	metaKeyVersion    = "fv_version"
	metaKeyUserID     = "user_id"
	metaKeyDeviceID   = "device_id"
	metaKeyPlanID     = "plan_id"
	metaKeyProductRef = "product_id"

	MetadataVersion = 1
)

// EncodeMetadata writes the intent metadata as provider form fields.
func EncodeMetadata(values url.Values, meta IntentMetadata) {
	version := meta.Version
	if version == 0 {
		version = MetadataVersion
	}
	values.Set("metadata["+metaKeyVersion+"]", strconv.Itoa(version))
	if meta.UserID != nil {
		values.Set("metadata["+metaKeyUserID+"]", meta.UserID.String())
	}
	if meta.DeviceID != "" {
		values.Set("metadata["+metaKeyDeviceID+"]", meta.DeviceID)
	}
	if meta.PlanID != 0 {
		values.Set("metadata["+metaKeyPlanID+"]", meta.PlanID.String())
	}
	if meta.ProductRef != "" {
		values.Set("metadata["+metaKeyProductRef+"]", meta.ProductRef)
	}
}

// ParseMetadata decodes the owner/plan contract from a provider metadata map.
// Unversioned payloads are accepted for events minted before the contract
// existed; a mismatched version is rejected.
func ParseMetadata(metadata map[string]any) (IntentMetadata, error) {
	meta := IntentMetadata{Version: MetadataVersion}

	if raw := readMetadataValue(metadata, metaKeyVersion); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version != MetadataVersion {
			return IntentMetadata{}, ErrInvalidMetadata
		}
		meta.Version = version
	}

	if raw := readMetadataValue(metadata, metaKeyUserID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return IntentMetadata{}, ErrInvalidMetadata
		}
		meta.UserID = &id
	}
	meta.DeviceID = readMetadataValue(metadata, metaKeyDeviceID)

	if raw := readMetadataValue(metadata, metaKeyPlanID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return IntentMetadata{}, ErrInvalidMetadata
		}
		meta.PlanID = id
	}
	meta.ProductRef = readMetadataValue(metadata, metaKeyProductRef)

	return meta, nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}
