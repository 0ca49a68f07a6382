// internal/storage/codec.go
package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format 持久化格式
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat 解析格式，空字符串视为 json
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported storage format %q", s)
	}
}

// Codec 实体序列化
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Ext() string
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Ext() string { return ".json" }

type yamlCodec struct{}

func (yamlCodec) Marshal(v interface{}) ([]byte, error) { return yaml.Marshal(v) }
func (yamlCodec) Unmarshal(data []byte, v interface{}) error {
	return yaml.Unmarshal(data, v)
}
func (yamlCodec) Ext() string { return ".yaml" }

// CodecFor 返回格式对应的编解码器
func CodecFor(f Format) Codec {
	if f == FormatYAML {
		return yamlCodec{}
	}
	return jsonCodec{}
}

// codecForExt 读取时按扩展名选择，允许切换格式后继续读旧文件
func codecForExt(ext string) (Codec, bool) {
	switch ext {
	case ".json":
		return jsonCodec{}, true
	case ".yaml", ".yml":
		return yamlCodec{}, true
	}
	return nil, false
}
