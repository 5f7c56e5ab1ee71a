package crdtstorage

import (
	"os"

	ds "github.com/ipfs/go-datastore"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// 지원되는 저장소 백엔드
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendDatastore = "datastore"
)

// Options는 저장소 옵션을 나타냅니다.
type Options struct {
	// Backend는 업데이트 저장소 유형입니다.
	// 지원되는 값: "memory", "redis", "datastore"
	Backend string `yaml:"backend"`

	// RedisAddr은 Redis 서버 주소입니다.
	RedisAddr string `yaml:"redis_addr"`

	// RedisPassword는 Redis 서버 비밀번호입니다.
	RedisPassword string `yaml:"redis_password"`

	// RedisDB는 Redis 데이터베이스 번호입니다.
	RedisDB int `yaml:"redis_db"`

	// Datastore는 datastore 백엔드가 사용할 데이터스토어입니다.
	// YAML로는 지정할 수 없으며, 비어 있으면 프로세스 내부 맵 데이터스토어를 사용합니다.
	Datastore ds.Batching `yaml:"-"`

	// KeyPrefix는 키 접두사입니다.
	KeyPrefix string `yaml:"key_prefix"`

	// CacheSize는 메모리에 유지할 문서 수입니다.
	CacheSize int `yaml:"cache_size"`

	// GC는 열린 문서의 가비지 컬렉션 여부입니다.
	GC bool `yaml:"gc"`

	// CompactThreshold보다 많은 업데이트가 쌓인 문서는 열 때 압축됩니다.
	// 0이면 자동 압축하지 않습니다.
	CompactThreshold int `yaml:"compact_threshold"`
}

// Option은 옵션 수정 함수입니다.
type Option func(*Options)

// DefaultOptions는 기본 저장소 옵션을 반환합니다.
func DefaultOptions() *Options {
	return &Options{
		Backend:   BackendMemory,
		RedisAddr: "localhost:6379",
		KeyPrefix: "ycrdt",
		CacheSize: 128,
		GC:        true,
	}
}

// WithBackend는 저장소 백엔드를 설정합니다.
func WithBackend(backend string) Option {
	return func(o *Options) {
		o.Backend = backend
	}
}

// WithRedis는 Redis 접속 정보를 설정하고 백엔드를 Redis로 바꿉니다.
func WithRedis(addr, password string, db int) Option {
	return func(o *Options) {
		o.Backend = BackendRedis
		o.RedisAddr = addr
		o.RedisPassword = password
		o.RedisDB = db
	}
}

// WithDatastore는 데이터스토어를 설정하고 백엔드를 datastore로 바꿉니다.
func WithDatastore(store ds.Batching) Option {
	return func(o *Options) {
		o.Backend = BackendDatastore
		o.Datastore = store
	}
}

// WithKeyPrefix는 키 접두사를 설정합니다.
func WithKeyPrefix(prefix string) Option {
	return func(o *Options) {
		o.KeyPrefix = prefix
	}
}

// WithCacheSize는 문서 캐시 크기를 설정합니다.
func WithCacheSize(size int) Option {
	return func(o *Options) {
		o.CacheSize = size
	}
}

// WithGC는 가비지 컬렉션 여부를 설정합니다.
func WithGC(enabled bool) Option {
	return func(o *Options) {
		o.GC = enabled
	}
}

// WithCompactThreshold는 자동 압축 기준을 설정합니다.
func WithCompactThreshold(n int) Option {
	return func(o *Options) {
		o.CompactThreshold = n
	}
}

// Apply는 옵션 함수들을 적용합니다.
func (o *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate는 옵션이 유효한지 확인합니다.
func (o *Options) Validate() error {
	switch o.Backend {
	case BackendMemory, BackendDatastore:
	case BackendRedis:
		if o.RedisAddr == "" {
			return errors.New("redis backend requires redis_addr")
		}
	default:
		return errors.Errorf("unknown storage backend %q", o.Backend)
	}
	if o.CacheSize <= 0 {
		return errors.Errorf("cache_size must be positive, got %d", o.CacheSize)
	}
	if o.CompactThreshold < 0 {
		return errors.Errorf("compact_threshold must not be negative, got %d", o.CompactThreshold)
	}
	if o.KeyPrefix == "" {
		return errors.New("key_prefix must not be empty")
	}
	return nil
}

// ParseOptions는 YAML 문서를 기본 옵션 위에 덮어써 읽습니다.
func ParseOptions(data []byte) (*Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, errors.Wrap(err, "failed to parse storage options")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// LoadOptions는 YAML 파일에서 옵션을 읽습니다.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return ParseOptions(data)
}
