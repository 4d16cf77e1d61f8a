package dispatch_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetwatch.dev/fleetwatch/internal/dispatch"
	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

// fakeRelay records sent batches and can be configured to fail.
type fakeRelay struct {
	mu      sync.Mutex
	batches []fleet.CommandBatch
	err     error
}

func (r *fakeRelay) Send(_ context.Context, batch fleet.CommandBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *fakeRelay) sent() []fleet.CommandBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fleet.CommandBatch, len(r.batches))
	copy(out, r.batches)
	return out
}

// fakeRegistry serves a fixed device set.
type fakeRegistry struct {
	devices map[string]fleet.DeviceRecord
}

func (r *fakeRegistry) Device(deviceID string) (fleet.DeviceRecord, bool) {
	d, ok := r.devices[deviceID]
	return d, ok
}

var _ = Describe("Dispatcher", func() {
	var (
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		relay *fakeRelay
		reg   *fakeRegistry
		d     *dispatch.Dispatcher
		ctx   context.Context
	)

	newDispatcher := func(ackTimeout time.Duration) *dispatch.Dispatcher {
		disp, err := dispatch.New(&dispatch.Config{
			Logger:     logger,
			Relay:      relay,
			Registry:   reg,
			AckTimeout: ackTimeout,
		})
		Expect(err).NotTo(HaveOccurred())
		return disp
	}

	BeforeEach(func() {
		ctx = context.Background()
		relay = &fakeRelay{}
		reg = &fakeRegistry{devices: map[string]fleet.DeviceRecord{
			"lock-1": {DeviceID: "lock-1", IsActive: true},
			"lock-2": {DeviceID: "lock-2", IsActive: true},
			"lock-3": {DeviceID: "lock-3", IsActive: false},
		}}
		d = newDispatcher(time.Second)
	})

	Describe("payload validation", func() {
		It("should reject a 5-digit seal key without contacting the relay", func() {
			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "12345")
			Expect(err).To(MatchError(dispatch.ErrInvalidPayload))
			Expect(cmd.State).To(Equal(fleet.CommandFailed))
			Expect(cmd.Reason).To(Equal(fleet.ReasonInvalidPayload))
			Expect(relay.sent()).To(BeEmpty())
		})

		It("should reject a non-numeric seal key", func() {
			_, err := d.Dispatch(ctx, "lock-1", fleet.CommandUnseal, "12a456")
			Expect(err).To(MatchError(dispatch.ErrInvalidPayload))
		})

		It("should reject a non-positive interval", func() {
			_, err := d.Dispatch(ctx, "lock-1", fleet.CommandSetInterval, "0")
			Expect(err).To(MatchError(dispatch.ErrInvalidPayload))

			_, err = d.Dispatch(ctx, "lock-1", fleet.CommandSetInterval, "ten")
			Expect(err).To(MatchError(dispatch.ErrInvalidPayload))
		})

		It("should reject a RequestLocation with a payload", func() {
			_, err := d.Dispatch(ctx, "lock-1", fleet.CommandRequestLocation, "x")
			Expect(err).To(MatchError(dispatch.ErrInvalidPayload))
		})
	})

	Describe("device eligibility", func() {
		It("should reject commands to an inactive device without contacting the relay", func() {
			cmd, err := d.Dispatch(ctx, "lock-3", fleet.CommandSeal, "123456")
			Expect(err).To(MatchError(dispatch.ErrDeviceOffline))
			Expect(cmd.State).To(Equal(fleet.CommandFailed))
			Expect(cmd.Reason).To(Equal(fleet.ReasonDeviceOffline))
			Expect(relay.sent()).To(BeEmpty())
		})

		It("should reject commands to an unknown device", func() {
			_, err := d.Dispatch(ctx, "lock-404", fleet.CommandSeal, "123456")
			Expect(err).To(MatchError(dispatch.ErrDeviceOffline))
		})
	})

	Describe("one pending command per device", func() {
		It("should reject a second dispatch while the first is pending", func() {
			first, err := d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())
			Expect(first.State).To(Equal(fleet.CommandPending))

			second, err := d.Dispatch(ctx, "lock-1", fleet.CommandUnseal, "123456")
			Expect(err).To(MatchError(dispatch.ErrDeviceBusy))
			Expect(second.Reason).To(Equal(fleet.ReasonDeviceBusy))
			Expect(relay.sent()).To(HaveLen(1))
		})

		It("should dispatch to different devices independently", func() {
			_, err := d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())

			_, err = d.Dispatch(ctx, "lock-2", fleet.CommandSeal, "654321")
			Expect(err).NotTo(HaveOccurred())
			Expect(relay.sent()).To(HaveLen(2))
		})

		It("should free the slot once the command resolves", func() {
			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandUnseal, "123456")
			Expect(err).NotTo(HaveOccurred())

			d.HandleAck(fleet.CommandAck{CommandID: cmd.ID, DeviceID: "lock-1", Status: fleet.AckOK})

			// Unseal twice in a row is allowed; the device is the source of
			// truth for lock state.
			_, err = d.Dispatch(ctx, "lock-1", fleet.CommandUnseal, "123456")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("envelope construction", func() {
		It("should build an elock envelope for Seal", func() {
			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())

			batches := relay.sent()
			Expect(batches).To(HaveLen(1))
			Expect(batches[0].CacheCommandsWhenOffline).To(BeFalse())

			envs := batches[0].Commands["lock-1"]
			Expect(envs).To(HaveLen(1))
			Expect(envs[0].Type).To(Equal(fleet.EnvelopeElockCommand))
			Expect(envs[0].Elock).NotTo(BeNil())
			Expect(envs[0].Elock.CmdType).To(Equal(fleet.ElockSeal))
			Expect(envs[0].Elock.LockID).To(Equal("lock-1"))
			Expect(envs[0].Elock.Bill).To(Equal(cmd.ID))
			Expect(envs[0].Elock.Key).To(Equal("123456"))
		})

		It("should build a param-setting envelope for SetInterval", func() {
			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandSetInterval, "60")
			Expect(err).NotTo(HaveOccurred())

			envs := relay.sent()[0].Commands["lock-1"]
			Expect(envs[0].Type).To(Equal(fleet.EnvelopeParamSetting))
			Expect(envs[0].ParamSettingList).To(HaveLen(1))
			Expect(envs[0].ParamSettingList[0].CommandID).To(Equal(cmd.ID))
			Expect(*envs[0].ParamSettingList[0].DefaultLocationUploadInterval).To(Equal(60))
			Expect(envs[0].Elock).To(BeNil())
		})

		It("should build a bare envelope for RequestLocation", func() {
			_, err := d.Dispatch(ctx, "lock-1", fleet.CommandRequestLocation, "")
			Expect(err).NotTo(HaveOccurred())

			envs := relay.sent()[0].Commands["lock-1"]
			Expect(envs[0].Type).To(Equal(fleet.EnvelopeRequestLocation))
			Expect(envs[0].Elock).To(BeNil())
			Expect(envs[0].ParamSettingList).To(BeEmpty())
		})
	})

	Describe("lifecycle", func() {
		It("should resolve to Acked on a positive acknowledgement", func() {
			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())

			d.HandleAck(fleet.CommandAck{CommandID: cmd.ID, DeviceID: "lock-1", Status: fleet.AckOK})

			got, ok := d.Command(cmd.ID)
			Expect(ok).To(BeTrue())
			Expect(got.State).To(Equal(fleet.CommandAcked))
		})

		It("should resolve to Failed on a negative acknowledgement", func() {
			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())

			d.HandleAck(fleet.CommandAck{
				CommandID: cmd.ID,
				DeviceID:  "lock-1",
				Status:    fleet.AckError,
				Error:     "lock jammed",
			})

			got, _ := d.Command(cmd.ID)
			Expect(got.State).To(Equal(fleet.CommandFailed))
			Expect(got.Reason).To(Equal(fleet.ReasonRelayError))
		})

		It("should resolve acks without a correlation id via the device", func() {
			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandRequestLocation, "")
			Expect(err).NotTo(HaveOccurred())

			d.HandleAck(fleet.CommandAck{DeviceID: "lock-1", Status: fleet.AckOK})

			got, _ := d.Command(cmd.ID)
			Expect(got.State).To(Equal(fleet.CommandAcked))
		})

		It("should time out a command that is never acknowledged", func() {
			fast := newDispatcher(50 * time.Millisecond)

			cmd, err := fast.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() fleet.CommandState {
				got, _ := fast.Command(cmd.ID)
				return got.State
			}).Should(Equal(fleet.CommandTimedOut))
		})

		It("should keep terminal states sticky against late acks", func() {
			fast := newDispatcher(20 * time.Millisecond)

			cmd, err := fast.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() fleet.CommandState {
				got, _ := fast.Command(cmd.ID)
				return got.State
			}).Should(Equal(fleet.CommandTimedOut))

			d.HandleAck(fleet.CommandAck{CommandID: cmd.ID, DeviceID: "lock-1", Status: fleet.AckOK})

			got, _ := fast.Command(cmd.ID)
			Expect(got.State).To(Equal(fleet.CommandTimedOut))
		})

		It("should resolve to Failed when the relay is unreachable", func() {
			relay.err = errors.New("broker down")

			cmd, err := d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).To(HaveOccurred())
			Expect(cmd.State).To(Equal(fleet.CommandFailed))
			Expect(cmd.Reason).To(Equal(fleet.ReasonRelayError))

			// The device slot is released for a retry by the operator.
			relay.err = nil
			_, err = d.Dispatch(ctx, "lock-1", fleet.CommandSeal, "123456")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
