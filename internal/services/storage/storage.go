package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/models"
)

// Collection names in the persistent store.
const (
	collectionProfiles = "user_profiles"
	collectionKeywords = "keywords"
	collectionSettings = "settings"
	collectionUsage    = "token_usage"
)

// Storage interface defines document-store operations over the named
// collections. Keys are case-insensitive for profiles and keywords.
type Storage interface {
	// Profile operations
	GetProfile(ctx context.Context, userName string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error
	ListProfiles(ctx context.Context) ([]models.UserProfile, error)

	// Keyword operations
	GetKeyword(ctx context.Context, word string) (*models.Keyword, error)
	SaveKeyword(ctx context.Context, keyword *models.Keyword) error
	DeleteKeyword(ctx context.Context, word string) error
	ListKeywords(ctx context.Context) ([]models.Keyword, error)

	// Settings operations
	GetSettings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, settings map[string]string) error

	// Usage operations
	AppendUsageRecord(ctx context.Context, record models.UsageRecord) error
	GetUsageRecords(ctx context.Context) ([]models.UsageRecord, error)
	ReplaceUsageRecords(ctx context.Context, records []models.UsageRecord) error
}

// Manager fronts a storage backend and wraps failures with the
// persistence error kind.
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	redisClient *redis.Client
}

// NewManager creates a storage manager for the configured backend
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{logger: logger}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		manager.redisClient = redisStorage.client
	case "memory":
		manager.storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return manager, nil
}

func wrapPersistence(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", models.ErrPersistence, err)
}

func (m *Manager) GetProfile(ctx context.Context, userName string) (*models.UserProfile, error) {
	profile, err := m.storage.GetProfile(ctx, userName)
	return profile, wrapPersistence(err)
}

// GetOrCreateProfile returns the stored profile, creating a default one
// on first reference to a user name.
func (m *Manager) GetOrCreateProfile(ctx context.Context, userName string) (*models.UserProfile, error) {
	profile, err := m.GetProfile(ctx, userName)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	profile = &models.UserProfile{
		UserName:      userName,
		PreferredName: userName,
	}
	if err := m.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	m.logger.WithField("user", userName).Debug("Created profile on first reference")
	return profile, nil
}

func (m *Manager) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	return wrapPersistence(m.storage.SaveProfile(ctx, profile))
}

func (m *Manager) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	profiles, err := m.storage.ListProfiles(ctx)
	return profiles, wrapPersistence(err)
}

// SetPreferredName updates the name used when addressing a user
func (m *Manager) SetPreferredName(ctx context.Context, userName, preferredName string) error {
	profile, err := m.GetOrCreateProfile(ctx, userName)
	if err != nil {
		return err
	}
	profile.PreferredName = preferredName
	return m.SaveProfile(ctx, profile)
}

// SetPronouns updates a user's stored pronouns
func (m *Manager) SetPronouns(ctx context.Context, userName, pronouns string) error {
	profile, err := m.GetOrCreateProfile(ctx, userName)
	if err != nil {
		return err
	}
	profile.Pronouns = pronouns
	return m.SaveProfile(ctx, profile)
}

// AddKnowledge appends a free-text fact to a user's knowledge list
func (m *Manager) AddKnowledge(ctx context.Context, userName, fact string) error {
	profile, err := m.GetOrCreateProfile(ctx, userName)
	if err != nil {
		return err
	}
	profile.Knowledge = append(profile.Knowledge, fact)
	return m.SaveProfile(ctx, profile)
}

// RemoveKnowledge removes the fact at the given index, if present.
func (m *Manager) RemoveKnowledge(ctx context.Context, userName string, index int) error {
	profile, err := m.GetOrCreateProfile(ctx, userName)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(profile.Knowledge) {
		return fmt.Errorf("%w: knowledge index %d out of range", models.ErrValidation, index)
	}
	profile.Knowledge = append(profile.Knowledge[:index], profile.Knowledge[index+1:]...)
	return m.SaveProfile(ctx, profile)
}

// ResetProfile reverts the preferred name to the user name and clears the
// knowledge list. Profiles are never deleted outright.
func (m *Manager) ResetProfile(ctx context.Context, userName string) error {
	profile, err := m.GetOrCreateProfile(ctx, userName)
	if err != nil {
		return err
	}
	profile.PreferredName = profile.UserName
	profile.Knowledge = nil
	return m.SaveProfile(ctx, profile)
}

func (m *Manager) GetKeyword(ctx context.Context, word string) (*models.Keyword, error) {
	keyword, err := m.storage.GetKeyword(ctx, word)
	return keyword, wrapPersistence(err)
}

// RememberKeyword creates or updates a keyword definition
func (m *Manager) RememberKeyword(ctx context.Context, word, definition string) error {
	keyword := &models.Keyword{
		Word:        word,
		Definition:  definition,
		LastUpdated: time.Now(),
	}
	return wrapPersistence(m.storage.SaveKeyword(ctx, keyword))
}

// ForgetKeyword deletes a keyword definition
func (m *Manager) ForgetKeyword(ctx context.Context, word string) error {
	return wrapPersistence(m.storage.DeleteKeyword(ctx, word))
}

func (m *Manager) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	keywords, err := m.storage.ListKeywords(ctx)
	return keywords, wrapPersistence(err)
}

func (m *Manager) GetSettings(ctx context.Context) (map[string]string, error) {
	settings, err := m.storage.GetSettings(ctx)
	return settings, wrapPersistence(err)
}

func (m *Manager) SaveSettings(ctx context.Context, settings map[string]string) error {
	return wrapPersistence(m.storage.SaveSettings(ctx, settings))
}

func (m *Manager) AppendUsageRecord(ctx context.Context, record models.UsageRecord) error {
	return wrapPersistence(m.storage.AppendUsageRecord(ctx, record))
}

func (m *Manager) GetUsageRecords(ctx context.Context) ([]models.UsageRecord, error) {
	records, err := m.storage.GetUsageRecords(ctx)
	return records, wrapPersistence(err)
}

func (m *Manager) ReplaceUsageRecords(ctx context.Context, records []models.UsageRecord) error {
	return wrapPersistence(m.storage.ReplaceUsageRecords(ctx, records))
}

// GetRedisClient returns the Redis client if available
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

// RedisStorage implements storage using Redis. Each collection is a hash
// except token_usage, which is an append-only list.
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

func profileKey(userName string) string {
	return strings.ToLower(strings.TrimSpace(userName))
}

func keywordKey(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

func (r *RedisStorage) GetProfile(ctx context.Context, userName string) (*models.UserProfile, error) {
	data, err := r.client.HGet(ctx, collectionProfiles, profileKey(userName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, err
	}

	return &profile, nil
}

func (r *RedisStorage) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	return r.client.HSet(ctx, collectionProfiles, profileKey(profile.UserName), data).Err()
}

func (r *RedisStorage) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	entries, err := r.client.HGetAll(ctx, collectionProfiles).Result()
	if err != nil {
		return nil, err
	}

	profiles := make([]models.UserProfile, 0, len(entries))
	for _, data := range entries {
		var profile models.UserProfile
		if err := json.Unmarshal([]byte(data), &profile); err != nil {
			r.logger.WithError(err).Warn("Skipping malformed profile entry")
			continue
		}
		profiles = append(profiles, profile)
	}

	return profiles, nil
}

func (r *RedisStorage) GetKeyword(ctx context.Context, word string) (*models.Keyword, error) {
	data, err := r.client.HGet(ctx, collectionKeywords, keywordKey(word)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keyword models.Keyword
	if err := json.Unmarshal([]byte(data), &keyword); err != nil {
		return nil, err
	}

	return &keyword, nil
}

func (r *RedisStorage) SaveKeyword(ctx context.Context, keyword *models.Keyword) error {
	data, err := json.Marshal(keyword)
	if err != nil {
		return err
	}

	return r.client.HSet(ctx, collectionKeywords, keywordKey(keyword.Word), data).Err()
}

func (r *RedisStorage) DeleteKeyword(ctx context.Context, word string) error {
	return r.client.HDel(ctx, collectionKeywords, keywordKey(word)).Err()
}

func (r *RedisStorage) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	entries, err := r.client.HGetAll(ctx, collectionKeywords).Result()
	if err != nil {
		return nil, err
	}

	keywords := make([]models.Keyword, 0, len(entries))
	for _, data := range entries {
		var keyword models.Keyword
		if err := json.Unmarshal([]byte(data), &keyword); err != nil {
			r.logger.WithError(err).Warn("Skipping malformed keyword entry")
			continue
		}
		keywords = append(keywords, keyword)
	}

	return keywords, nil
}

func (r *RedisStorage) GetSettings(ctx context.Context) (map[string]string, error) {
	settings, err := r.client.HGetAll(ctx, collectionSettings).Result()
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *RedisStorage) SaveSettings(ctx context.Context, settings map[string]string) error {
	if len(settings) == 0 {
		return r.client.Del(ctx, collectionSettings).Err()
	}

	values := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		values[k] = v
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, collectionSettings)
	pipe.HSet(ctx, collectionSettings, values)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStorage) AppendUsageRecord(ctx context.Context, record models.UsageRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return r.client.RPush(ctx, collectionUsage, data).Err()
}

func (r *RedisStorage) GetUsageRecords(ctx context.Context) ([]models.UsageRecord, error) {
	entries, err := r.client.LRange(ctx, collectionUsage, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.UsageRecord, 0, len(entries))
	for _, data := range entries {
		var record models.UsageRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			r.logger.WithError(err).Warn("Skipping malformed usage record")
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *RedisStorage) ReplaceUsageRecords(ctx context.Context, records []models.UsageRecord) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, collectionUsage)
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, collectionUsage, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MemoryStorage implements storage using in-memory caches. Useful for
// development and tests; contents do not survive a restart.
type MemoryStorage struct {
	profiles *cache.Cache
	keywords *cache.Cache
	settings *cache.Cache
	usage    *cache.Cache
	logger   *logrus.Logger
}

const usageRecordsKey = "records"

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		profiles: cache.New(cache.NoExpiration, cache.NoExpiration),
		keywords: cache.New(cache.NoExpiration, cache.NoExpiration),
		settings: cache.New(cache.NoExpiration, cache.NoExpiration),
		usage:    cache.New(cache.NoExpiration, cache.NoExpiration),
		logger:   logger,
	}
}

func (m *MemoryStorage) GetProfile(ctx context.Context, userName string) (*models.UserProfile, error) {
	if val, found := m.profiles.Get(profileKey(userName)); found {
		profile := val.(models.UserProfile)
		return &profile, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	m.profiles.Set(profileKey(profile.UserName), *profile, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	items := m.profiles.Items()
	profiles := make([]models.UserProfile, 0, len(items))
	for _, item := range items {
		profiles = append(profiles, item.Object.(models.UserProfile))
	}
	return profiles, nil
}

func (m *MemoryStorage) GetKeyword(ctx context.Context, word string) (*models.Keyword, error) {
	if val, found := m.keywords.Get(keywordKey(word)); found {
		keyword := val.(models.Keyword)
		return &keyword, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveKeyword(ctx context.Context, keyword *models.Keyword) error {
	m.keywords.Set(keywordKey(keyword.Word), *keyword, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) DeleteKeyword(ctx context.Context, word string) error {
	m.keywords.Delete(keywordKey(word))
	return nil
}

func (m *MemoryStorage) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	items := m.keywords.Items()
	keywords := make([]models.Keyword, 0, len(items))
	for _, item := range items {
		keywords = append(keywords, item.Object.(models.Keyword))
	}
	return keywords, nil
}

func (m *MemoryStorage) GetSettings(ctx context.Context) (map[string]string, error) {
	settings := make(map[string]string)
	for key, item := range m.settings.Items() {
		settings[key] = item.Object.(string)
	}
	return settings, nil
}

func (m *MemoryStorage) SaveSettings(ctx context.Context, settings map[string]string) error {
	m.settings.Flush()
	for key, value := range settings {
		m.settings.Set(key, value, cache.NoExpiration)
	}
	return nil
}

func (m *MemoryStorage) AppendUsageRecord(ctx context.Context, record models.UsageRecord) error {
	records, err := m.GetUsageRecords(ctx)
	if err != nil {
		return err
	}
	records = append(records, record)
	m.usage.Set(usageRecordsKey, records, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetUsageRecords(ctx context.Context) ([]models.UsageRecord, error) {
	if val, found := m.usage.Get(usageRecordsKey); found {
		stored := val.([]models.UsageRecord)
		records := make([]models.UsageRecord, len(stored))
		copy(records, stored)
		return records, nil
	}
	return nil, nil
}

func (m *MemoryStorage) ReplaceUsageRecords(ctx context.Context, records []models.UsageRecord) error {
	m.usage.Set(usageRecordsKey, records, cache.NoExpiration)
	return nil
}
