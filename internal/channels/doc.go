// Package channels manages the realtime change-notification channels of the
// dashboard and their reconnection lifecycle.
//
// Each named channel owns one subscription to the backing ChangeSource and
// moves through a small state machine:
//
//	idle -> connecting -> subscribed
//	connecting | subscribed --(failure)--> error
//	error --(backoff elapsed, retries < max)--> connecting
//	error --(retries exhausted)--> failed
//	any --(disconnect)--> closed
//
// Retry attempt n waits baseDelay * 2^(n-1). Entering subscribed resets the
// retry count. A failed channel stays failed until Reconnect is called.
//
// # Usage
//
//	mgr := channels.NewManager(source, schedule.RealClock{}, channels.DefaultConfig(), channels.Handlers{
//		Deliver: func(name string, rec models.ChangeRecord) { ... },
//		OnStateChange: func(change models.StateChange) { ... },
//	}, logger, metrics)
//	defer mgr.Close()
//
//	lease, err := mgr.Acquire("sessions", models.TopicFilter{Table: "diagnosis_sessions"})
//	if err != nil {
//		return err
//	}
//	defer lease.Release()
//
// Records of one channel are delivered in arrival order from a single
// goroutine. No ordering holds across channels.
package channels
