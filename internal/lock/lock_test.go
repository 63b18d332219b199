package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestLockerLockSuccess(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "reveal:req_1", "holder-1")

	mock.ExpectSetNX("reveal:req_1", "holder-1", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerLockAlreadyHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "reveal:req_1", "holder-2")

	mock.ExpectSetNX("reveal:req_1", "holder-2", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.ErrorContains(t, err, "already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerUnlockOnlyHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "reveal:req_1", "holder-1")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

	mock.ExpectEval(script, []string{"reveal:req_1"}, "holder-1").SetVal(int64(1))
	assert.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(script, []string{"reveal:req_1"}, "holder-1").SetVal(int64(0))
	assert.ErrorContains(t, locker.Unlock(context.Background()), "unlock failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}
