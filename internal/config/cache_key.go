package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key holding a student's current login token
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// VariantQuestionsKey returns the cache key for a variant's question list
func (r *CacheKeyStruct) VariantQuestionsKey(variantRef string) string {
	return fmt.Sprintf("variant:%s:questions", variantRef)
}

// AttemptAnswersKey returns the hash key buffering an attempt's answers
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptOrderKey returns the cache key for an attempt's presentation order
func (r *CacheKeyStruct) AttemptOrderKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:order", attemptID)
}

// AttemptViolationsKey returns the counter key for an attempt's violations
func (r *CacheKeyStruct) AttemptViolationsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// AttemptCompletedKey marks a submitted attempt so late buffer writes are refused
func (r *CacheKeyStruct) AttemptCompletedKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:completed", attemptID)
}

// AttemptLiveKey marks an attempt that has a connected session
func (r *CacheKeyStruct) AttemptLiveKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:live", attemptID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// RateLimitKey returns the fixed-window counter key for one caller of a scope
func (r *CacheKeyStruct) RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, subject)
}

var CacheKey = NewCacheKeyStruct()
