package utils

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunInPool(t *testing.T) {
	queue := make(chan int, 100)
	completed := make(chan CompletedTask[int], 100)
	for i := 0; i < 100; i++ {
		queue <- i
	}
	close(queue)

	RunInPool(func(n int) (int, error) {
		if n%10 == 0 {
			return 0, fmt.Errorf("bad input %d", n)
		}
		return n * 2, nil
	}, queue, completed, 8)

	var results []int
	errors := 0
	for done := range completed {
		if done.Error != nil {
			errors++
			continue
		}
		results = append(results, done.Result)
	}

	assert.Equal(t, 10, errors)
	assert.Len(t, results, 90)

	sort.Ints(results)
	assert.Equal(t, 2, results[0])
	assert.Equal(t, 198, results[len(results)-1])
}

func TestRunInPoolEmptyQueue(t *testing.T) {
	queue := make(chan string)
	completed := make(chan CompletedTask[string])
	close(queue)

	RunInPool(func(s string) (string, error) { return s, nil }, queue, completed, 4)

	_, open := <-completed
	assert.False(t, open)
}
