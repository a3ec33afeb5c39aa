package confstack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileSource 是从 YAML / TOML 文件加载的只读默认值。
// 嵌套表按 '.' 展开：
//
//	db:
//	  host: localhost   ->  db.host = "localhost"
type FileSource struct {
	entrySet
	path string
}

var _ Source = (*FileSource)(nil)

// LoadFileSource 按扩展名（.yaml / .yml / .toml）解析文件。
func LoadFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	raw := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse TOML %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}

	entries := make(map[string]Value)
	if err := flatten("", raw, entries); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &FileSource{entrySet: entries, path: path}, nil
}

func flatten(prefix string, in map[string]any, out map[string]Value) error {
	// 排序保证出错时报告的 Key 稳定
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := strings.TrimSpace(k)
		if prefix != "" {
			name = prefix + "." + name
		}
		switch v := in[k].(type) {
		case map[string]any:
			if err := flatten(name, v, out); err != nil {
				return err
			}
		default:
			cv, err := canonicalValue(v)
			if err != nil {
				return fmt.Errorf("key %q: %w", name, err)
			}
			if _, err := normalizeKey(name); err != nil {
				return err
			}
			out[name] = cv
		}
	}
	return nil
}

// Path 返回来源文件路径。
func (f *FileSource) Path() string {
	return f.path
}
