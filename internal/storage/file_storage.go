// internal/storage/file_storage.go
package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/utils"
)

// Collection 实体集合，对应 baseDir 下的子目录
type Collection string

const (
	CollectionCharacters   Collection = "characters"
	CollectionDialogues    Collection = "dialogues"
	CollectionExplorations Collection = "explorations"
	CollectionValidations  Collection = "validations"
)

// Collections 全部集合
func Collections() []Collection {
	return []Collection{CollectionCharacters, CollectionDialogues, CollectionExplorations, CollectionValidations}
}

// Options 仓库配置
type Options struct {
	BaseDir   string
	Format    Format
	CacheSize int
	Logger    *utils.Logger
}

// Repository 以实体 ID 为键的文件存储，每个实体一个文件
type Repository struct {
	baseDir string
	codec   Codec
	logger  *utils.Logger

	// Backup/Restore 持写锁，其余操作持读锁
	opMu      sync.RWMutex
	fileLocks sync.Map // path -> *sync.RWMutex
	cache     *fileCache
}

// Stats 存储统计
type Stats struct {
	BaseDir     string         `json:"base_dir"`
	Format      string         `json:"format"`
	Collections map[string]int `json:"collections"`
	TotalFiles  int            `json:"total_files"`
	TotalBytes  int64          `json:"total_bytes"`
	CachedFiles int            `json:"cached_files"`
}

// NewRepository 创建仓库并确保集合目录存在
func NewRepository(opts Options) (*Repository, error) {
	if opts.BaseDir == "" {
		return nil, apperrors.NewConfigError("storage base directory is empty", nil)
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NopLogger()
	}
	cache, err := newFileCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("创建缓存失败: %w", err)
	}

	r := &Repository{
		baseDir: opts.BaseDir,
		codec:   CodecFor(opts.Format),
		logger:  logger,
		cache:   cache,
	}
	for _, c := range Collections() {
		if err := os.MkdirAll(filepath.Join(opts.BaseDir, string(c)), 0755); err != nil {
			return nil, fmt.Errorf("创建存储目录失败: %w", err)
		}
	}
	return r, nil
}

// BaseDir 存储根目录
func (r *Repository) BaseDir() string {
	return r.baseDir
}

func (r *Repository) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := r.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return apperrors.NewValidationError(fmt.Sprintf("invalid entity id %q", id), nil)
	}
	return nil
}

func (r *Repository) path(c Collection, id string) string {
	return filepath.Join(r.baseDir, string(c), id+r.codec.Ext())
}

// Save 序列化并原子写入实体
func (r *Repository) Save(c Collection, id string, entity interface{}) error {
	if err := validID(id); err != nil {
		return err
	}
	content, err := r.codec.Marshal(entity)
	if err != nil {
		return fmt.Errorf("序列化实体失败: %w", err)
	}

	r.opMu.RLock()
	defer r.opMu.RUnlock()

	fullPath := r.path(c, id)
	lock := r.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			r.logger.Warn("failed to clean up temporary file", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr,
			})
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	r.cache.put(fullPath, content)
	return nil
}

// Load 读取实体到 out；不存在时返回 false 且无错误
func (r *Repository) Load(c Collection, id string, out interface{}) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}

	r.opMu.RLock()
	defer r.opMu.RUnlock()

	fullPath := r.path(c, id)
	if data, ok := r.cache.get(fullPath); ok {
		return true, r.decode(r.codec, data, out)
	}

	lock := r.getFileLock(fullPath)
	lock.RLock()
	data, err := os.ReadFile(fullPath)
	lock.RUnlock()
	if err == nil {
		r.cache.put(fullPath, data)
		return true, r.decode(r.codec, data, out)
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("读取文件失败: %w", err)
	}

	// 配置的格式下不存在时，尝试另一种格式的旧文件
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if ext == r.codec.Ext() {
			continue
		}
		alt := filepath.Join(r.baseDir, string(c), id+ext)
		data, err := os.ReadFile(alt)
		if err != nil {
			continue
		}
		codec, _ := codecForExt(ext)
		return true, r.decode(codec, data, out)
	}
	return false, nil
}

func (r *Repository) decode(codec Codec, data []byte, out interface{}) error {
	if err := codec.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析实体失败: %w", err)
	}
	return nil
}

// List 集合中的实体 ID，已排序
func (r *Repository) List(c Collection) ([]string, error) {
	r.opMu.RLock()
	defer r.opMu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(r.baseDir, string(c)))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if _, ok := codecForExt(ext); !ok {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete 删除实体的所有格式文件
func (r *Repository) Delete(c Collection, id string) error {
	if err := validID(id); err != nil {
		return err
	}

	r.opMu.RLock()
	defer r.opMu.RUnlock()

	removed := false
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		fullPath := filepath.Join(r.baseDir, string(c), id+ext)
		lock := r.getFileLock(fullPath)
		lock.Lock()
		err := os.Remove(fullPath)
		lock.Unlock()
		r.cache.invalidate(fullPath)
		if err == nil {
			removed = true
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("删除文件失败: %w", err)
		}
	}
	if !removed {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %s not found", strings.TrimSuffix(string(c), "s"), id), nil)
	}
	return nil
}

// Backup 复制整个存储目录；dest 为空时放到 baseDir 同级的 backups 目录
func (r *Repository) Backup(dest string) (string, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if dest == "" {
		parent := filepath.Dir(filepath.Clean(r.baseDir))
		dest = filepath.Join(parent, "backups", "backup_"+time.Now().Format("20060102_150405"))
	}
	if _, err := os.Stat(dest); err == nil {
		return "", apperrors.NewConflictError(fmt.Sprintf("backup destination %s already exists", dest), nil)
	}
	if err := copyTree(r.baseDir, dest); err != nil {
		return "", fmt.Errorf("备份失败: %w", err)
	}
	r.logger.Info("storage backup created", map[string]interface{}{"path": dest})
	return dest, nil
}

// Restore 用备份目录替换当前集合
func (r *Repository) Restore(src string) error {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return apperrors.NewNotFoundError(fmt.Sprintf("backup %s not found", src), err)
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	for _, c := range Collections() {
		dir := filepath.Join(r.baseDir, string(c))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("清理目录失败: %w", err)
		}
		from := filepath.Join(src, string(c))
		if _, err := os.Stat(from); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			continue
		}
		if err := copyTree(from, dir); err != nil {
			return fmt.Errorf("恢复失败: %w", err)
		}
	}
	r.cache.purge()
	r.logger.Info("storage restored", map[string]interface{}{"path": src})
	return nil
}

// Stats 统计每个集合的实体数和总大小
func (r *Repository) Stats() (Stats, error) {
	r.opMu.RLock()
	defer r.opMu.RUnlock()

	st := Stats{
		BaseDir:     r.baseDir,
		Format:      strings.TrimPrefix(r.codec.Ext(), "."),
		Collections: make(map[string]int),
		CachedFiles: r.cache.len(),
	}
	for _, c := range Collections() {
		dir := filepath.Join(r.baseDir, string(c))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				st.Collections[string(c)] = 0
				continue
			}
			return st, fmt.Errorf("读取目录失败: %w", err)
		}
		count := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, ok := codecForExt(filepath.Ext(entry.Name())); !ok {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			count++
			st.TotalBytes += info.Size()
		}
		st.Collections[string(c)] = count
		st.TotalFiles += count
	}
	return st, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
