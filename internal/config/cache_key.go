package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamDefinitionKey returns the cache key for an exam definition (answer key included, server only)
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// ExpirySweepLeaseKey returns the key of the lease held by the instance running the expiry sweep
func (r *CacheKeyStruct) ExpirySweepLeaseKey() string {
	return "lease:expiry_sweep"
}

// ExamResultsChannel returns the Redis PubSub channel name for finalized results of an exam
func (r *CacheKeyStruct) ExamResultsChannel(examID string) string {
	return fmt.Sprintf("exam:%s:results", examID)
}

var CacheKey = NewCacheKeyStruct()
