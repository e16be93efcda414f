package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/domain"
	dErrors "custodia/pkg/domain-errors"
)

func TestRegister(t *testing.T) {
	t.Run("registered account is verified", func(t *testing.T) {
		d := NewDirectory()
		require.NoError(t, d.Register("acct-1", "idref-1", 840))
		assert.True(t, d.IsVerified("acct-1"))
	})

	t.Run("unknown account is not verified", func(t *testing.T) {
		d := NewDirectory()
		assert.False(t, d.IsVerified("acct-unknown"))
	})

	t.Run("re-register with same values leaves state unchanged", func(t *testing.T) {
		d := NewDirectory()
		require.NoError(t, d.Register("acct-1", "idref-1", 840))
		before, ok := d.Record("acct-1")
		require.True(t, ok)

		require.NoError(t, d.Register("acct-1", "idref-1", 840))
		after, ok := d.Record("acct-1")
		require.True(t, ok)
		assert.Equal(t, before, after)
	})

	t.Run("re-register overwrites reference and jurisdiction", func(t *testing.T) {
		d := NewDirectory()
		require.NoError(t, d.Register("acct-1", "idref-1", 840))
		require.NoError(t, d.Register("acct-1", "idref-2", 756))

		rec, ok := d.Record("acct-1")
		require.True(t, ok)
		assert.Equal(t, "idref-2", rec.IdentityRef)
		assert.Equal(t, uint16(756), rec.Jurisdiction)
	})

	t.Run("rejects empty identity reference", func(t *testing.T) {
		d := NewDirectory()
		err := d.Register("acct-1", "", 840)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects zero account", func(t *testing.T) {
		d := NewDirectory()
		err := d.Register(domain.ZeroAccount, "idref-1", 840)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestRemove(t *testing.T) {
	t.Run("removal clears verification", func(t *testing.T) {
		d := NewDirectory()
		require.NoError(t, d.Register("acct-1", "idref-1", 840))
		require.NoError(t, d.Remove("acct-1"))
		assert.False(t, d.IsVerified("acct-1"))
	})

	t.Run("removing unknown account fails with not_registered", func(t *testing.T) {
		d := NewDirectory()
		err := d.Remove("acct-ghost")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotRegistered))
	})
}

func TestSetJurisdiction(t *testing.T) {
	t.Run("updates existing record", func(t *testing.T) {
		d := NewDirectory()
		require.NoError(t, d.Register("acct-1", "idref-1", 840))
		require.NoError(t, d.SetJurisdiction("acct-1", 276))

		rec, ok := d.Record("acct-1")
		require.True(t, ok)
		assert.Equal(t, uint16(276), rec.Jurisdiction)
		assert.Equal(t, "idref-1", rec.IdentityRef)
	})

	t.Run("fails for unregistered account", func(t *testing.T) {
		d := NewDirectory()
		err := d.SetJurisdiction("acct-ghost", 276)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotRegistered))
	})
}

func TestSnapshotRestore(t *testing.T) {
	d := NewDirectory()
	require.NoError(t, d.Register("acct-1", "idref-1", 840))
	snap := d.Snapshot()

	require.NoError(t, d.Register("acct-2", "idref-2", 756))
	require.NoError(t, d.Remove("acct-1"))

	d.Restore(snap)
	assert.True(t, d.IsVerified("acct-1"))
	assert.False(t, d.IsVerified("acct-2"))
}
