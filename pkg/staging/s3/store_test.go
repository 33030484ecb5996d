package s3

import (
	"context"
	"testing"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
)

// A store disabled by the bucket probe still holds a client; every
// operation must refuse before touching it.
func TestDisabledStoreRejectsAllOps(t *testing.T) {
	st := &Store{client: &awss3.Client{}, bucket: "b", disabled: true, now: time.Now}
	ctx := context.Background()

	assert.ErrorIs(t, st.Put(ctx, "k", []byte("x"), staging.Metadata{}), staging.ErrDisabled)

	_, err := st.Get(ctx, "k")
	assert.ErrorIs(t, err, staging.ErrDisabled)

	_, err = st.Head(ctx, "k")
	assert.ErrorIs(t, err, staging.ErrDisabled)

	assert.ErrorIs(t, st.Delete(ctx, "k"), staging.ErrDisabled)
	assert.ErrorIs(t, st.Touch(ctx, "k"), staging.ErrDisabled)
	assert.ErrorIs(t, st.Rename(ctx, "k", "k2"), staging.ErrDisabled)

	assert.True(t, st.Disabled())
}
