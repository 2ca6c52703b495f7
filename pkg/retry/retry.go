package retry

// Action is a function to be performed in a retriable manner.
type Action func() error

// Notify is called after a failed attempt that will be retried. attempt
// starts at 1.
type Notify func(attempt uint, err error)

// Retry executes the provided action, potentially multiple times based off of
// the provided strategies. Retry will block until the action is successful, or
// one of the provided strategies indicate no further retries should be performed.
// If no strategies are provided, Retry acts as a tight-loop, retrying until no
// error is returned from the action.
//
// notify, when not nil, is invoked once all strategies agreed to retry, right
// before the next attempt.
//
// The strategies are executed in the provided order, so any strategies that
// induce delays should be specified last.
func Retry(action Action, notify Notify, strategies ...Strategy) (uint, error) {
	for i := uint(1); ; i++ {
		err := action()
		if err == nil {
			return i, nil
		}

		for _, s := range strategies {
			if shouldRetry := s(i, err); !shouldRetry {
				return i, err
			}
		}

		if notify != nil {
			notify(i, err)
		}
	}
}
