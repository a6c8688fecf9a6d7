package trigger_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/trigger"
	"github.com/mohamedbeat/yeet/trigger/mocks"
)

func TestTrigger_Fire(t *testing.T) {
	// arrange
	ctrl := gomock.NewController(t)
	tabs := mocks.NewMockTabs(ctrl)
	opener := mocks.NewMockOpener(ctrl)
	ctx := context.Background()

	want := "https://hidewall.io/yeet?y=https%3A%2F%2Fsite.example%2Fpath%3Fq%3D1"
	tabs.EXPECT().ActiveTab(ctx).Return("https://site.example/path?q=1", nil)
	opener.EXPECT().Open(ctx, want).Return(nil)

	// act
	got, err := trigger.New(tabs, opener, zap.NewNop()).Fire(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTrigger_Fire_TabQueryFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	tabs := mocks.NewMockTabs(ctrl)
	opener := mocks.NewMockOpener(ctrl)
	hostErr := errors.New("no focused window")

	tabs.EXPECT().ActiveTab(gomock.Any()).Return("", hostErr)

	_, err := trigger.New(tabs, opener, zap.NewNop()).Fire(context.Background())
	assert.ErrorIs(t, err, hostErr)
}

func TestTrigger_Fire_NoActiveTab(t *testing.T) {
	ctrl := gomock.NewController(t)
	tabs := mocks.NewMockTabs(ctrl)
	opener := mocks.NewMockOpener(ctrl)

	tabs.EXPECT().ActiveTab(gomock.Any()).Return("", nil)

	_, err := trigger.New(tabs, opener, zap.NewNop()).Fire(context.Background())
	assert.ErrorIs(t, err, trigger.ErrNoActiveTab)
}

func TestTrigger_Fire_OpenFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	tabs := mocks.NewMockTabs(ctrl)
	opener := mocks.NewMockOpener(ctrl)
	openErr := errors.New("no browser")

	tabs.EXPECT().ActiveTab(gomock.Any()).Return("https://a.test/", nil)
	opener.EXPECT().Open(gomock.Any(), "https://hidewall.io/yeet?y=https%3A%2F%2Fa.test%2F").Return(openErr)

	_, err := trigger.New(tabs, opener, zap.NewNop()).Fire(context.Background())
	assert.ErrorIs(t, err, openErr)
}

func TestStaticTabAndWriterOpener(t *testing.T) {
	var out bytes.Buffer
	tr := trigger.New(trigger.StaticTab("  https://site.example/path?q=1\n"), trigger.WriterOpener{W: &out}, zap.NewNop())

	got, err := tr.Fire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, got+"\n", out.String())
}

func TestBrowserOpener_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, trigger.BrowserOpener{}.Open(ctx, "https://a.test/"), context.Canceled)
}
