package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/ripple/internal/shard"
)

// maxBatchWrite is the DynamoDB BatchWriteItem request limit.
const maxBatchWrite = 25

// keySep separates the row, family, qualifier and version parts of a sort key.
// It sorts below every printable byte, so a row's cells stay contiguous and
// rows keep their key order.
const keySep = "\x00"

// DynamoAPI is the subset of *dynamodb.Client used by Dynamo.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Dynamo is a Client backed by DynamoDB.
//
// Each cell version is one item. The partition key is the row's bucket and the
// sort key is "row\x00family\x00qualifier\x00<MaxInt64-timestamp>", so a
// Query over one bucket returns rows in key order and each cell's versions
// newest first.
type Dynamo struct {
	client   DynamoAPI
	config   DynamoConfig
	registry *Registry
	now      func() time.Time
}

// cellItem is the DynamoDB item holding one cell version.
type cellItem struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Row       string `dynamodbav:"row"`
	Family    string `dynamodbav:"family"`
	Qualifier string `dynamodbav:"qualifier"`
	Timestamp int64  `dynamodbav:"ts"`
	Value     []byte `dynamodbav:"value"`
}

// itemKey is the primary key of a cell item.
type itemKey struct {
	pk string
	sk string
}

// writeReq is one BatchWriteItem request tagged with the batch index it serves.
type writeReq struct {
	index   int
	key     itemKey
	request types.WriteRequest
}

// NewDynamo creates a DynamoDB-backed client. tables declare family retention;
// tables provisioned later through EnsureTable are declared as well.
func NewDynamo(client DynamoAPI, config DynamoConfig, tables ...TableSpec) *Dynamo {
	config.validate()
	return &Dynamo{
		client:   client,
		config:   config,
		registry: NewRegistry(tables...),
		now:      time.Now,
	}
}

// Registry returns the table declarations.
func (d *Dynamo) Registry() *Registry {
	return d.registry
}

// TableName returns the physical DynamoDB table name of a logical table.
func (d *Dynamo) TableName(table string) string {
	return d.config.Namespace + "." + table
}

func (d *Dynamo) bucket(row string) string {
	return shard.Bucket(row, d.config.NumShards)
}

func cellPrefix(row, family, qualifier string) string {
	return row + keySep + family + keySep + qualifier + keySep
}

func sortKey(row, family, qualifier string, ts int64) string {
	return cellPrefix(row, family, qualifier) + fmt.Sprintf("%019d", math.MaxInt64-ts)
}

// Put writes cell versions with BatchWriteItem, then trims cells beyond their
// family's retention.
func (d *Dynamo) Put(ctx context.Context, table string, puts ...Put) error {
	if len(puts) == 0 {
		return nil
	}
	name := d.TableName(table)
	nowMillis := d.now().UnixMilli()

	reqs := make([]writeReq, 0, len(puts))
	for i, p := range puts {
		ts := p.Timestamp
		if ts == 0 {
			ts = nowMillis
		}
		item := cellItem{
			PK:        d.bucket(p.Row),
			SK:        sortKey(p.Row, p.Family, p.Qualifier, ts),
			Row:       p.Row,
			Family:    p.Family,
			Qualifier: p.Qualifier,
			Timestamp: ts,
			Value:     p.Value,
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("marshal cell: %w", err)
		}
		reqs = append(reqs, writeReq{
			index:   i,
			key:     itemKey{item.PK, item.SK},
			request: types.WriteRequest{PutRequest: &types.PutRequest{Item: av}},
		})
	}

	failed, err := d.batchWrite(ctx, name, reqs)
	d.trim(ctx, table, puts, failed)
	return batchResult(len(puts), failed, err)
}

// Delete removes the newest version of each cell, or all of them.
func (d *Dynamo) Delete(ctx context.Context, table string, deletes ...Delete) error {
	if len(deletes) == 0 {
		return nil
	}
	name := d.TableName(table)

	var reqs []writeReq
	var failed []int
	var firstErr error
	for i, del := range deletes {
		keys, err := d.cellKeys(ctx, name, del.Row, cellPrefix(del.Row, del.Family, del.Qualifier), !del.AllVersions)
		if err != nil {
			failed = append(failed, i)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, k := range keys {
			reqs = append(reqs, deleteReq(i, k))
		}
	}

	writeFailed, err := d.batchWrite(ctx, name, reqs)
	if firstErr == nil {
		firstErr = err
	}
	return batchResult(len(deletes), mergeIndexes(failed, writeFailed), firstErr)
}

func deleteReq(index int, k itemKey) writeReq {
	return writeReq{
		index: index,
		key:   k,
		request: types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{
				"pk": &types.AttributeValueMemberS{Value: k.pk},
				"sk": &types.AttributeValueMemberS{Value: k.sk},
			},
		}},
	}
}

// GetRow queries the row's bucket for every item under the row prefix.
func (d *Dynamo) GetRow(ctx context.Context, table, row string, opts GetOptions) (Row, error) {
	prefix := row + keySep
	if opts.Family != "" {
		prefix += opts.Family + keySep
	}

	var cells []Cell
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.TableName(table)),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: d.bucket(row)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Row{}, mapError("get row", err)
		}
		pageCells, err := unmarshalCells(page.Items)
		if err != nil {
			return Row{}, err
		}
		cells = append(cells, pageCells...)
	}
	if len(cells) == 0 {
		return Row{}, ErrNotFound
	}
	return Row{Key: row, Cells: limitVersions(cells, opts.MaxVersions)}, nil
}

// Scan queries every bucket in parallel and merges the rows by key.
func (d *Dynamo) Scan(ctx context.Context, table string, scan Scan) ([]Row, error) {
	if scan.empty() {
		return nil, nil
	}
	name := d.TableName(table)
	numShards := d.config.NumShards

	// Fast path for single shard (default)
	if numShards == 1 {
		return d.scanBucket(ctx, name, shard.BucketName(0), scan)
	}

	var mu sync.Mutex
	var all []Row
	var wg sync.WaitGroup
	errs := make(chan error, numShards)

	for shardNum := 0; shardNum < numShards; shardNum++ {
		wg.Add(1)
		go func(shardNum int) {
			defer wg.Done()

			rows, err := d.scanBucket(ctx, name, shard.BucketName(shardNum), scan)
			if err != nil {
				errs <- fmt.Errorf("bucket %02x: %w", shardNum, err)
				return
			}

			mu.Lock()
			all = append(all, rows...)
			mu.Unlock()
		}(shardNum)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	if scan.Limit > 0 && len(all) > scan.Limit {
		all = all[:scan.Limit]
	}
	return all, nil
}

// scanBucket reads the scan range from one bucket. Items arrive in sort key
// order, so a row's cells are contiguous and each cell's newest version comes first.
func (d *Dynamo) scanBucket(ctx context.Context, name, bucket string, scan Scan) ([]Row, error) {
	lo, hi := scan.bounds()
	input := &dynamodb.QueryInput{
		TableName: aws.String(name),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: bucket},
		},
	}
	switch {
	case lo != "" && hi != "":
		input.KeyConditionExpression = aws.String("pk = :pk AND sk BETWEEN :lo AND :hi")
		input.ExpressionAttributeValues[":lo"] = &types.AttributeValueMemberS{Value: lo}
		input.ExpressionAttributeValues[":hi"] = &types.AttributeValueMemberS{Value: hi}
	case hi != "":
		input.KeyConditionExpression = aws.String("pk = :pk AND sk < :hi")
		input.ExpressionAttributeValues[":hi"] = &types.AttributeValueMemberS{Value: hi}
	case lo != "":
		input.KeyConditionExpression = aws.String("pk = :pk AND sk >= :lo")
		input.ExpressionAttributeValues[":lo"] = &types.AttributeValueMemberS{Value: lo}
	default:
		input.KeyConditionExpression = aws.String("pk = :pk")
	}

	var rows []Row
	var current Row
	done := false
	flush := func() {
		if current.Key == "" || done {
			return
		}
		row := Row{Key: current.Key, Cells: limitVersions(current.Cells, 1)}
		current = Row{}
		if !scan.inRange(row.Key) || !scan.accepts(row) {
			return
		}
		row, ok := scan.project(row)
		if !ok {
			return
		}
		rows = append(rows, row)
		if scan.Limit > 0 && len(rows) >= scan.Limit {
			done = true
		}
	}

	paginator := dynamodb.NewQueryPaginator(d.client, input)
	for paginator.HasMorePages() && !done {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError("scan", err)
		}
		var items []cellItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal cells: %w", err)
		}
		for _, it := range items {
			if it.Row != current.Key {
				flush()
				if done {
					break
				}
				current = Row{Key: it.Row}
			}
			current.Cells = append(current.Cells, it.cell())
		}
	}
	flush()
	return rows, nil
}

// EnsureTable creates the physical table when missing and records its retention.
func (d *Dynamo) EnsureTable(ctx context.Context, spec TableSpec) (bool, error) {
	d.registry.Register(spec)
	name := d.TableName(spec.Name)

	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err == nil {
		return false, nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, unavailable("describe table", err)
	}

	_, err = d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewImage,
		},
	})
	if err != nil {
		// Another process created it first
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return false, nil
		}
		return false, unavailable("create table", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 5*time.Minute); err != nil {
		return true, unavailable("wait for table", err)
	}
	return true, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *Dynamo) Close() error {
	return nil
}

// batchWrite submits reqs in chunks of maxBatchWrite and returns the batch
// indexes whose requests were not applied.
func (d *Dynamo) batchWrite(ctx context.Context, name string, reqs []writeReq) ([]int, error) {
	// BatchWriteItem rejects duplicate keys in one request; the last write wins.
	byKey := make(map[itemKey]int, len(reqs))
	owners := make(map[itemKey][]int, len(reqs))
	var unique []writeReq
	for _, r := range reqs {
		owners[r.key] = append(owners[r.key], r.index)
		if pos, ok := byKey[r.key]; ok {
			unique[pos] = r
			continue
		}
		byKey[r.key] = len(unique)
		unique = append(unique, r)
	}

	failedSet := make(map[int]struct{})
	var firstErr error
	for start := 0; start < len(unique); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		requests := make([]types.WriteRequest, len(chunk))
		for i, r := range chunk {
			requests[i] = r.request
		}
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{name: requests},
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			for _, r := range chunk {
				for _, idx := range owners[r.key] {
					failedSet[idx] = struct{}{}
				}
			}
			continue
		}
		for _, wr := range out.UnprocessedItems[name] {
			k, ok := requestKey(wr)
			if !ok {
				continue
			}
			for _, idx := range owners[k] {
				failedSet[idx] = struct{}{}
			}
		}
	}
	if len(failedSet) > 0 && firstErr == nil {
		firstErr = errors.New("unprocessed items")
	}

	failed := make([]int, 0, len(failedSet))
	for idx := range failedSet {
		failed = append(failed, idx)
	}
	sort.Ints(failed)
	return failed, firstErr
}

// trim deletes versions beyond family retention for every cell written by an
// applied put. Failures are logged; reads cap versions regardless.
func (d *Dynamo) trim(ctx context.Context, table string, puts []Put, failed []int) {
	skip := make(map[int]struct{}, len(failed))
	for _, idx := range failed {
		skip[idx] = struct{}{}
	}
	seen := make(map[string]struct{}, len(puts))
	name := d.TableName(table)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.TrimConcurrency)
	for i, p := range puts {
		if _, ok := skip[i]; ok {
			continue
		}
		prefix := cellPrefix(p.Row, p.Family, p.Qualifier)
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		maxVersions := d.registry.MaxVersions(table, p.Family)
		row := p.Row
		g.Go(func() error {
			keys, err := d.cellKeys(gctx, name, row, prefix, false)
			if err != nil || len(keys) <= maxVersions {
				return err
			}
			reqs := make([]writeReq, 0, len(keys)-maxVersions)
			for _, k := range keys[maxVersions:] {
				reqs = append(reqs, deleteReq(0, k))
			}
			_, err = d.batchWrite(gctx, name, reqs)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		d.config.Logger.Warn("failed to trim cell versions",
			"table", name,
			"error", err,
		)
	}
}

// cellKeys lists the item keys of one cell, newest first.
func (d *Dynamo) cellKeys(ctx context.Context, name, row, prefix string, newestOnly bool) ([]itemKey, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(name),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ProjectionExpression:   aws.String("pk, sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: d.bucket(row)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}
	if newestOnly {
		input.Limit = aws.Int32(1)
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, mapError("query cell", err)
		}
		return itemKeys(out.Items), nil
	}

	var keys []itemKey
	paginator := dynamodb.NewQueryPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError("query cell", err)
		}
		keys = append(keys, itemKeys(page.Items)...)
	}
	return keys, nil
}

func itemKeys(items []map[string]types.AttributeValue) []itemKey {
	keys := make([]itemKey, 0, len(items))
	for _, item := range items {
		pk, _ := item["pk"].(*types.AttributeValueMemberS)
		sk, _ := item["sk"].(*types.AttributeValueMemberS)
		if pk == nil || sk == nil {
			continue
		}
		keys = append(keys, itemKey{pk.Value, sk.Value})
	}
	return keys
}

// requestKey extracts the primary key of a put or delete request.
func requestKey(wr types.WriteRequest) (itemKey, bool) {
	var attrs map[string]types.AttributeValue
	switch {
	case wr.PutRequest != nil:
		attrs = wr.PutRequest.Item
	case wr.DeleteRequest != nil:
		attrs = wr.DeleteRequest.Key
	default:
		return itemKey{}, false
	}
	keys := itemKeys([]map[string]types.AttributeValue{attrs})
	if len(keys) == 0 {
		return itemKey{}, false
	}
	return keys[0], true
}

func unmarshalCells(raw []map[string]types.AttributeValue) ([]Cell, error) {
	var items []cellItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cells: %w", err)
	}
	cells := make([]Cell, len(items))
	for i, it := range items {
		cells[i] = it.cell()
	}
	return cells, nil
}

func (it cellItem) cell() Cell {
	return Cell{
		Family:    it.Family,
		Qualifier: it.Qualifier,
		Timestamp: it.Timestamp,
		Value:     it.Value,
	}
}

// batchResult maps the failed indexes of a batch of total writes to an error.
func batchResult(total int, failed []int, err error) error {
	if len(failed) == 0 {
		return nil
	}
	mapped := mapError("batch write", err)
	if len(failed) == total {
		return mapped
	}
	return &BatchError{Total: total, Failed: failed, Err: mapped}
}

func mergeIndexes(a, b []int) []int {
	if len(b) == 0 {
		return a
	}
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, idx := range append(append([]int(nil), a...), b...) {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// mapError maps SDK errors to package errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTableNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s: %w", ErrTableNotFound, op, err)
	}
	return unavailable(op, err)
}
