package importjob_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/example/partitioned-import/internal/importjob"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func TestParseCustomer(t *testing.T) {
	c, err := importjob.ParseCustomer(`7, "Doe, Jane",Jane@Example.com`, 2)
	require.NoError(t, err)
	assert.Equal(t, importjob.Customer{ID: 7, Name: "Doe, Jane", Email: "Jane@Example.com"}, c)

	_, err = importjob.ParseCustomer("x,Ann,ann@example.com", 3)
	assert.ErrorContains(t, err, "line 3")

	_, err = importjob.ParseCustomer("1,Ann", 4)
	assert.Error(t, err)
}

func TestNormalizeCustomer(t *testing.T) {
	ctx := context.Background()

	out, err := importjob.NormalizeCustomer(ctx, importjob.Customer{ID: 1, Name: "Ann", Email: " ANN@Example.COM "})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "ann@example.com", out.Email)

	out, err = importjob.NormalizeCustomer(ctx, importjob.Customer{ID: 2, Name: "Bob"})
	require.NoError(t, err)
	assert.Nil(t, out, "customers without an e-mail are filtered")

	_, err = importjob.NormalizeCustomer(ctx, importjob.Customer{ID: 3, Name: "Carl", Email: "carl.example.com"})
	require.ErrorIs(t, err, importjob.ErrInvalidCustomer)
	assert.True(t, exception.IsErrorOfType(err, "InvalidCustomerException"))
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("IMPORT_PREFIX", "daily/")
	cfg := config.NewConfig()
	cfg.EmbeddedConfig = config.EmbeddedConfig(`
chunkflow:
  batch:
    job_name: customerImport
import:
  input_prefix: ${IMPORT_PREFIX}
  header_lines: 0
`)

	s, err := importjob.LoadSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "daily/", s.InputPrefix)
	assert.Equal(t, 0, s.HeaderLines)
	assert.Equal(t, "input", s.InputConnection)
	assert.Equal(t, "*.csv", s.Pattern)
}
