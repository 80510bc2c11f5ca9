package audio

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CacheEntry 是分段音频缓存索引中的一条记录。
type CacheEntry struct {
	Engine   string `json:"engine"`
	Voice    string `json:"voice"`
	Chars    int    `json:"chars"`
	Size     int64  `json:"size"`
	CachedAt string `json:"cached_at"`
	LastUsed string `json:"last_used"`
}

// SegmentCache 把已合成的分段音频以 WAV 形式缓存在磁盘上，
// 总大小超出上限时按最近使用时间淘汰。
type SegmentCache struct {
	mu      sync.RWMutex
	dir     string
	maxSize int64 // 字节，0 表示禁用
	index   map[string]*CacheEntry
	log     *zap.SugaredLogger
	now     func() time.Time
}

// CacheKey 由引擎、音色、语速、音高和文本计算缓存键。
func CacheKey(engine, voice string, speed, pitch float64, text string) string {
	h := sha1.New()
	for _, part := range []string{engine, voice, strconv.FormatFloat(speed, 'f', 3, 64), strconv.FormatFloat(pitch, 'f', 3, 64), text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewSegmentCache 创建缓存，maxSizeMB 为 0 时返回禁用状态的缓存。
func NewSegmentCache(dir string, maxSizeMB int64, log *zap.SugaredLogger) (*SegmentCache, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sc := &SegmentCache{
		dir:   dir,
		index: make(map[string]*CacheEntry),
		log:   log,
		now:   time.Now,
	}
	if maxSizeMB <= 0 || dir == "" {
		return sc, nil
	}
	sc.maxSize = maxSizeMB * 1024 * 1024

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}
	if err := sc.loadIndex(); err != nil {
		log.Warnf("[cache] 加载缓存索引失败（将使用空索引）: %v", err)
	}
	sc.validateIndex()
	return sc, nil
}

// Enabled 返回缓存是否启用。
func (sc *SegmentCache) Enabled() bool {
	return sc != nil && sc.maxSize > 0
}

// Lookup 读取缓存的分段音频。
func (sc *SegmentCache) Lookup(key string) ([]float32, int, bool) {
	if !sc.Enabled() {
		return nil, 0, false
	}

	sc.mu.RLock()
	_, ok := sc.index[key]
	sc.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}

	samples, rate, err := ReadWAV(sc.filePath(key))
	if err != nil {
		sc.log.Warnf("[cache] 读取缓存文件失败，移除条目 %s: %v", key, err)
		sc.mu.Lock()
		delete(sc.index, key)
		sc.saveIndexLocked()
		sc.mu.Unlock()
		return nil, 0, false
	}

	sc.mu.Lock()
	if entry, ok := sc.index[key]; ok {
		entry.LastUsed = sc.stamp()
		sc.saveIndexLocked()
	}
	sc.mu.Unlock()

	return samples, rate, true
}

// Store 写入一段音频。先写临时文件再改名，避免并发读到半个文件。
func (sc *SegmentCache) Store(key string, entry CacheEntry, samples []float32, sampleRate int) error {
	if !sc.Enabled() {
		return nil
	}

	tmp := sc.filePath(key) + ".tmp"
	if err := WriteWAV(tmp, samples, sampleRate); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入缓存文件失败: %w", err)
	}
	if err := os.Rename(tmp, sc.filePath(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("提交缓存文件失败: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.stamp()
	entry.CachedAt = now
	entry.LastUsed = now
	if info, err := os.Stat(sc.filePath(key)); err == nil {
		entry.Size = info.Size()
	}
	sc.index[key] = &entry

	if err := sc.saveIndexLocked(); err != nil {
		return fmt.Errorf("保存缓存索引失败: %w", err)
	}
	sc.evictLocked()
	return nil
}

// stamp 返回定长的 UTC 时间戳，字符串顺序即时间顺序。
func (sc *SegmentCache) stamp() string {
	return sc.now().UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// Len 返回缓存条目数。
func (sc *SegmentCache) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.index)
}

func (sc *SegmentCache) filePath(key string) string {
	return filepath.Join(sc.dir, key+".wav")
}

func (sc *SegmentCache) indexPath() string {
	return filepath.Join(sc.dir, "cache_index.json")
}

func (sc *SegmentCache) loadIndex() error {
	data, err := os.ReadFile(sc.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &sc.index)
}

// saveIndexLocked 持久化索引（调用方需持有写锁）。
func (sc *SegmentCache) saveIndexLocked() error {
	data, err := json.MarshalIndent(sc.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sc.indexPath(), data, 0644)
}

// validateIndex 移除本地文件已不存在的条目。
func (sc *SegmentCache) validateIndex() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	removed := 0
	for key := range sc.index {
		if _, err := os.Stat(sc.filePath(key)); err != nil {
			delete(sc.index, key)
			removed++
		}
	}
	if removed > 0 {
		sc.log.Infof("[cache] 索引校验：移除 %d 个无效条目", removed)
		sc.saveIndexLocked()
	}
	sc.log.Debugf("[cache] 缓存已加载: %d 段音频, 目录 %s", len(sc.index), sc.dir)
}

// evictLocked 总大小超限时淘汰最久未使用的条目（调用方需持有写锁）。
func (sc *SegmentCache) evictLocked() {
	var total int64
	for _, e := range sc.index {
		total += e.Size
	}
	if total <= sc.maxSize {
		return
	}

	keys := make([]string, 0, len(sc.index))
	for k := range sc.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return sc.index[keys[i]].LastUsed < sc.index[keys[j]].LastUsed
	})

	for _, k := range keys {
		if total <= sc.maxSize {
			break
		}
		if err := os.Remove(sc.filePath(k)); err != nil && !os.IsNotExist(err) {
			sc.log.Warnf("[cache] 删除缓存文件失败: %s: %v", k, err)
			continue
		}
		total -= sc.index[k].Size
		delete(sc.index, k)
		sc.log.Debugf("[cache] LRU 淘汰: %s", k)
	}
	sc.saveIndexLocked()
}
