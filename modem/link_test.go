package modem_test

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"i4.energy/across/cellctl/modem"
)

const dataDevice = "/dev/ttyUSB0"

// dataPorts hands out a fresh scripted data port on every Dial.
type dataPorts struct {
	replies map[string]string
	dialed  []*modem.TestTransport
}

func (d *dataPorts) Dial(context.Context) (modem.Transport, error) {
	t := modem.NewTestTransport()
	t.Respond = scriptedModem(d.replies)
	d.dialed = append(d.dialed, t)
	return t, nil
}

func (d *dataPorts) last() *modem.TestTransport {
	return d.dialed[len(d.dialed)-1]
}

func carrierPorts() *dataPorts {
	return &dataPorts{replies: map[string]string{
		"ATDT*99#": "CONNECT 7200000\r\n",
	}}
}

func newTestLink(t *testing.T, ports *dataPorts, spawner modem.Spawner) *modem.Link {
	t.Helper()

	config, err := modem.NewLinkConfigBuilder().
		WithDialer(ports, dataDevice).
		WithSpawner(spawner).
		WithDialTimeout(time.Second).
		Build()
	require.NoError(t, err)

	link, err := modem.NewLink(config)
	require.NoError(t, err)
	return link
}

func daemonArgs() []string {
	return append([]string{"115200", dataDevice}, modem.DefaultDaemonArgs(modem.DefaultPeer)...)
}

func TestLinkConnect(t *testing.T) {
	t.Run("Carrier starts the daemon", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		proc := modem.NewMockProcess(ctrl)
		ports := carrierPorts()

		spawner.EXPECT().Spawn(modem.DefaultDaemonPath, daemonArgs()).Return(proc, nil)
		proc.EXPECT().Pid().Return(4242).AnyTimes()

		link := newTestLink(t, ports, spawner)
		pid, err := link.Connect(context.Background(), true)
		require.NoError(t, err)

		assert.Equal(t, 4242, pid)
		assert.Equal(t, modem.LinkConnected, link.State())
		assert.Equal(t, 4242, link.PID())
		assert.Equal(t, []string{"ATZ\r", "ATDT*99#\r"}, ports.last().Writes())
		assert.False(t, ports.last().Closed(), "data port must stay open while connected")
	})

	t.Run("Dial tone detection can be disabled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		proc := modem.NewMockProcess(ctrl)
		ports := carrierPorts()

		spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(proc, nil)
		proc.EXPECT().Pid().Return(1).AnyTimes()

		link := newTestLink(t, ports, spawner)
		_, err := link.Connect(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"ATZ\r", "ATX3\r", "ATDT*99#\r"}, ports.last().Writes())
	})

	t.Run("Already connected while the daemon runs", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		proc := modem.NewMockProcess(ctrl)
		ports := carrierPorts()

		spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(proc, nil).Times(1)
		proc.EXPECT().Pid().Return(7).AnyTimes()
		proc.EXPECT().Exited().Return(false, nil)

		link := newTestLink(t, ports, spawner)
		_, err := link.Connect(context.Background(), true)
		require.NoError(t, err)

		_, err = link.Connect(context.Background(), true)
		assert.ErrorIs(t, err, modem.ErrAlreadyConnected)
		assert.ErrorIs(t, err, modem.ErrUsage)
		assert.Equal(t, modem.LinkConnected, link.State())
		assert.Len(t, ports.dialed, 1)
	})

	t.Run("Reconnects once the daemon has exited", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		first := modem.NewMockProcess(ctrl)
		second := modem.NewMockProcess(ctrl)
		ports := carrierPorts()

		gomock.InOrder(
			spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(first, nil),
			first.EXPECT().Exited().Return(true, nil),
			spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(second, nil),
		)
		first.EXPECT().Pid().Return(10).AnyTimes()
		second.EXPECT().Pid().Return(11).AnyTimes()

		link := newTestLink(t, ports, spawner)
		_, err := link.Connect(context.Background(), true)
		require.NoError(t, err)

		pid, err := link.Connect(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, 11, pid)
		require.Len(t, ports.dialed, 2)
		assert.True(t, ports.dialed[0].Closed(), "stale data port must be closed")
	})

	t.Run("Spawn failure is a startup error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		ports := carrierPorts()

		spawnErr := errors.New("permission denied")
		spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(nil, spawnErr)

		link := newTestLink(t, ports, spawner)
		_, err := link.Connect(context.Background(), true)

		var serr *modem.LinkStartupError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, modem.DefaultDaemonPath, serr.Path)
		assert.ErrorIs(t, err, spawnErr)
		assert.Equal(t, modem.LinkDisconnected, link.State())
		assert.True(t, ports.last().Closed())
	})

	t.Run("No carrier", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		ports := &dataPorts{replies: map[string]string{"ATDT*99#": "\r\nNO CARRIER\r\n"}}

		link := newTestLink(t, ports, spawner)
		_, err := link.Connect(context.Background(), true)

		var perr *modem.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "NO CARRIER", perr.Line)
		assert.Equal(t, modem.LinkDisconnected, link.State())
	})

	t.Run("Unexpected dial result", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		ports := &dataPorts{replies: map[string]string{"ATDT*99#": "VOICE\r\n"}}

		link := newTestLink(t, ports, spawner)
		_, err := link.Connect(context.Background(), true)
		assert.ErrorIs(t, err, modem.ErrDialFailed)
	})

	t.Run("Silent modem times out", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		ports := &dataPorts{replies: map[string]string{"ATDT*99#": ""}}

		link := newTestLink(t, ports, spawner)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := link.Connect(ctx, true)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, modem.LinkDisconnected, link.State())
	})
}

func TestLinkDisconnect(t *testing.T) {
	t.Run("Terminates the daemon", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		proc := modem.NewMockProcess(ctrl)
		ports := carrierPorts()

		spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(proc, nil)
		proc.EXPECT().Pid().Return(99).AnyTimes()
		proc.EXPECT().Terminate().Return(nil)

		link := newTestLink(t, ports, spawner)
		_, err := link.Connect(context.Background(), true)
		require.NoError(t, err)

		require.NoError(t, link.Disconnect())
		assert.Equal(t, modem.LinkDisconnected, link.State())
		assert.Zero(t, link.PID())
		assert.True(t, ports.last().Closed())
	})

	t.Run("Disconnected even when termination fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		spawner := modem.NewMockSpawner(ctrl)
		proc := modem.NewMockProcess(ctrl)

		spawner.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(proc, nil)
		proc.EXPECT().Pid().Return(99).AnyTimes()
		proc.EXPECT().Terminate().Return(errors.New("no such process"))

		link := newTestLink(t, carrierPorts(), spawner)
		_, err := link.Connect(context.Background(), true)
		require.NoError(t, err)

		assert.Error(t, link.Disconnect())
		assert.Equal(t, modem.LinkDisconnected, link.State())
		assert.Zero(t, link.PID())
	})

	t.Run("Not connected is a usage error", func(t *testing.T) {
		link := newTestLink(t, carrierPorts(), modem.NewMockSpawner(gomock.NewController(t)))

		err := link.Disconnect()
		assert.ErrorIs(t, err, modem.ErrNotConnected)
		assert.ErrorIs(t, err, modem.ErrUsage)

		_, err = link.Info()
		assert.ErrorIs(t, err, modem.ErrNotConnected)
	})
}

func TestLinkConfig(t *testing.T) {
	t.Run("Requires a dialer", func(t *testing.T) {
		_, err := modem.NewLinkConfigBuilder().Build()
		assert.ErrorIs(t, err, modem.ErrNoDialer)
	})

	t.Run("Defaults", func(t *testing.T) {
		config, err := modem.NewLinkConfigBuilder().WithDataPort(dataDevice, 0).Build()
		require.NoError(t, err)

		assert.Equal(t, modem.DefaultDaemonPath, config.DaemonPath)
		assert.Equal(t, modem.DefaultBaudRate, config.BaudRate)
		assert.Equal(t, modem.DefaultDialNumber, config.DialNumber)
		assert.Equal(t, modem.DefaultDialTimeout, config.DialTimeout)
		assert.True(t, slices.Contains(config.Args, "-detach"))
		assert.IsType(t, modem.ExecSpawner{}, config.Spawner)
	})

	t.Run("Peer", func(t *testing.T) {
		config, err := modem.NewLinkConfigBuilder().WithDataPort(dataDevice, 0).WithPeer("provider").Build()
		require.NoError(t, err)

		i := slices.Index(config.Args, "call")
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, "provider", config.Args[i+1])
	})
}

func TestExecSpawner(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	proc, err := modem.ExecSpawner{}.Spawn(path, []string{"30"})
	require.NoError(t, err)

	exited, err := proc.Exited()
	require.NoError(t, err)
	assert.False(t, exited)
	assert.Positive(t, proc.Pid())

	info, err := proc.Info()
	require.NoError(t, err)
	assert.Equal(t, proc.Pid(), info.Pid)

	require.NoError(t, proc.Terminate())
	exited, err = proc.Exited()
	require.NoError(t, err)
	assert.True(t, exited)

	// Terminating again is a no-op.
	assert.NoError(t, proc.Terminate())
}
