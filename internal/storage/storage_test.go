package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}

	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "nested", "marketwatch.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)
			t.Cleanup(func() { _ = st.Close() })

			ctx := context.Background()
			base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
			for i := 0; i < 5; i++ {
				d := Delivery{
					At:        base.Add(time.Duration(i) * time.Second),
					JobID:     "job-1",
					Platform:  "telegram",
					BotID:     "main",
					ChannelID: fmt.Sprintf("-100%d", i),
					Outcome:   OutcomeSent,
					TookMS:    int64(i),
					Bytes:     1024,
				}
				if i == 3 {
					d.Outcome = OutcomeFailed
					d.Error = "boom"
					d.GuildID = "g"
				}
				require.NoError(t, st.AppendDelivery(ctx, d))
			}

			got, err := st.RecentDeliveries(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "-1004", got[0].ChannelID)
			assert.Equal(t, "-1003", got[1].ChannelID)
			assert.Equal(t, OutcomeFailed, got[1].Outcome)
			assert.Equal(t, "boom", got[1].Error)
			assert.Equal(t, "g", got[1].GuildID)
			assert.Equal(t, "-1002", got[2].ChannelID)
			assert.True(t, got[0].At.Equal(base.Add(4*time.Second)))

			all, err := st.RecentDeliveries(ctx, 100)
			require.NoError(t, err)
			assert.Len(t, all, 5)

			none, err := st.RecentDeliveries(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}
