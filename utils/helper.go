package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"github.com/bsm/redislock"
)

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			// if not exists in map, append it, otherwise do nothing
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// mergeSlices merges two integer slices and removes duplicates
func MergeIntSlices(slice1, slice2 []int) []int {
	elementMap := make(map[int]bool)
	mergedSlice := []int{}

	for _, elem := range slice1 {
		if !elementMap[elem] {
			elementMap[elem] = true
			mergedSlice = append(mergedSlice, elem)
		}
	}
	for _, elem := range slice2 {
		if !elementMap[elem] {
			elementMap[elem] = true
			mergedSlice = append(mergedSlice, elem)
		}
	}
	return mergedSlice
}

// safely dereference pointer of type T, nil pointer return zero value or optional default
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func NilIfEmpty[T comparable](value T) *T {
	var zero T
	if value == zero {
		return nil
	}
	return &value
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ObtainEntryLock serializes count-entry writes for one sector count across
// instances. Two counters submit concurrently against the same sector; the
// ledger write path (insert + tally counters) must not interleave.
// Caller must Release the returned lock.
func ObtainEntryLock(ctx context.Context, businessId string, sectorCountId int) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, "Utils", "ObtainEntryLock", "Redis lock not initialized", businessId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("countledger:%s:%d", businessId, sectorCountId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, "Utils", "ObtainEntryLock", "Could not obtain entry lock", lockKey, err)
		return nil, errors.New("could not obtain count entry lock")
	} else if err != nil {
		config.LogError(logger, "Utils", "ObtainEntryLock", "Error obtaining entry lock", lockKey, err)
		return nil, err
	}
	return lock, nil
}
