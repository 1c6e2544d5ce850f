package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/QixShawnChen/cloud-gene-annotation/queue"
	"github.com/QixShawnChen/cloud-gene-annotation/test"
	"github.com/QixShawnChen/cloud-gene-annotation/test/factory"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	topic := factory.RandomId("topic-")
	test.AssertNotError(t, queue.Subscribe(topic, "q-one"), "subscribing")
	test.AssertNotError(t, queue.Subscribe(topic, "q-two"), "subscribing")
	// Duplicate subscriptions are no-ops.
	test.AssertNotError(t, queue.Subscribe(topic, "q-two"), "re-subscribing")

	count, err := queue.Publish(topic, []byte(`{"hello": "world"}`))
	test.AssertNotError(t, err, "publishing")
	test.AssertEquals(t, count, 2)

	depths, err := queue.Depths()
	test.AssertNotError(t, err, "fetching depths")
	test.AssertEquals(t, depths["q-one"], int64(1))
	test.AssertEquals(t, depths["q-two"], int64(1))
}

func TestPublishWithoutSubscribersDeliversNothing(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	count, err := queue.Publish(factory.RandomId("topic-"), []byte(`{}`))
	test.AssertNotError(t, err, "publishing")
	test.AssertEquals(t, count, 0)
}

func TestSendReceiveDelete(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	name := factory.RandomId("q-")
	test.AssertNotError(t, queue.Send(name, []byte(`{"n": 1}`)), "sending")

	m, err := queue.Receive(context.Background(), name, time.Second)
	test.AssertNotError(t, err, "receiving")
	test.AssertEquals(t, m.Queue, name)
	test.AssertEquals(t, m.Attempts, 1)
	test.AssertEquals(t, string(m.Payload), `{"n": 1}`)
	test.Assert(t, m.Receipt != "", "expected a delivery receipt")

	// While reserved, the message is hidden from other consumers.
	_, err = queue.Receive(context.Background(), name, 10*time.Millisecond)
	test.AssertEquals(t, err, queue.ErrNoMessages)

	test.AssertNotError(t, queue.Delete(name, m.Receipt), "deleting")
	depths, err := queue.Depths()
	test.AssertNotError(t, err, "fetching depths")
	test.AssertEquals(t, depths[name], int64(0))
}

func TestReceiveEmptyQueue(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	_, err := queue.Receive(context.Background(), factory.RandomId("q-"), 10*time.Millisecond)
	test.AssertEquals(t, err, queue.ErrNoMessages)
}

func TestReceiveHonorsContextCancel(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := queue.Receive(ctx, factory.RandomId("q-"), time.Minute)
	test.AssertEquals(t, err, context.Canceled)
}

func TestLapsedReservationIsRedelivered(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	old := queue.VisibilityTimeout
	queue.VisibilityTimeout = time.Second
	defer func() { queue.VisibilityTimeout = old }()

	name := factory.RandomId("q-")
	test.AssertNotError(t, queue.Send(name, []byte(`{}`)), "sending")

	first, err := queue.Receive(context.Background(), name, time.Second)
	test.AssertNotError(t, err, "receiving")

	second, err := queue.Receive(context.Background(), name, 3*time.Second)
	test.AssertNotError(t, err, "receiving after the reservation lapsed")
	test.AssertEquals(t, second.ID.String(), first.ID.String())
	test.AssertEquals(t, second.Attempts, 2)

	// The first receipt went stale with the redelivery.
	test.AssertEquals(t, queue.Delete(name, first.Receipt), queue.ErrNotFound)
	test.AssertNotError(t, queue.Delete(name, second.Receipt), "deleting")
}

func TestChangeVisibilityDelaysRedelivery(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	name := factory.RandomId("q-")
	test.AssertNotError(t, queue.Send(name, []byte(`{}`)), "sending")

	m, err := queue.Receive(context.Background(), name, time.Second)
	test.AssertNotError(t, err, "receiving")
	test.AssertNotError(t, queue.ChangeVisibility(name, m.Receipt, time.Hour), "deferring")

	_, err = queue.Receive(context.Background(), name, 10*time.Millisecond)
	test.AssertEquals(t, err, queue.ErrNoMessages)
}

func TestStaleReceiptOperationsFail(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	name := factory.RandomId("q-")
	test.AssertEquals(t, queue.Delete(name, "rcpt_missing"), queue.ErrNotFound)
	test.AssertEquals(t, queue.ChangeVisibility(name, "rcpt_missing", time.Minute), queue.ErrNotFound)
}

func TestOldestMessageDeliveredFirst(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	name := factory.RandomId("q-")
	test.AssertNotError(t, queue.Send(name, []byte(`{"n": 1}`)), "sending")
	test.AssertNotError(t, queue.Send(name, []byte(`{"n": 2}`)), "sending")

	m, err := queue.Receive(context.Background(), name, time.Second)
	test.AssertNotError(t, err, "receiving")
	test.AssertEquals(t, string(m.Payload), `{"n": 1}`)
}
