package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/RetailAIUseCase/retailai-engine/pkg/database"
	"github.com/RetailAIUseCase/retailai-engine/pkg/models"
)

// EmbeddingRepository provides data access for the three embedding corpora.
// All reads and writes require a tenant scope in context; RLS enforces the
// same (user, project) predicate server-side.
type EmbeddingRepository interface {
	// SearchTables runs the phase-1 table-level similarity search.
	SearchTables(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error)

	// FetchTableDetails runs the phase-2 expansion: column/relationship rows
	// for the primary and related table sets, primary-table rows first.
	FetchTableDetails(ctx context.Context, vector []float32, primaryTables, allTables []string) ([]models.RetrievedChunk, error)

	// SearchBusinessLogic runs a flat similarity search over business rules.
	SearchBusinessLogic(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error)

	// SearchReferences runs a flat similarity search over reference chunks.
	SearchReferences(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error)

	// FindByContentHash looks up a live row with the given content hash in
	// the corpus, regardless of logical position.
	FindByContentHash(ctx context.Context, corpus models.EmbeddingCorpus, contentHash string) (*EmbeddingRow, error)

	// FindByPosition looks up the live row at a logical position.
	FindByPosition(ctx context.Context, corpus models.EmbeddingCorpus, pos EmbeddingPosition) (*EmbeddingRow, error)

	// Insert creates a new embedding row.
	Insert(ctx context.Context, corpus models.EmbeddingCorpus, row *EmbeddingRow) error

	// Update replaces content, embedding, and metadata in place at a
	// logical position; rows are never duplicated by content change.
	Update(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, content string, vector []float32, meta models.EmbeddingMetadata) error

	// RelinkDocument points an existing row at a new owning document.
	RelinkDocument(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, documentID uuid.UUID) error

	// CountByCorpus returns live row counts per corpus for context stats.
	CountByCorpus(ctx context.Context) (map[models.EmbeddingCorpus]int, error)
}

// EmbeddingPosition identifies the logical slot an embedding occupies within
/// its corpus: (content_type, table_name) for metadata, rule_number for
// business logic, chunk_index for references.
type EmbeddingPosition struct {
	ContentType models.MetadataContentType
	TableName   string
	RuleNumber  int
	ChunkIndex  int
}

// EmbeddingRow is the repository-level view of one embedding record in any
// corpus.
type EmbeddingRow struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	ContentType models.MetadataContentType
	TableName   string
	RuleNumber  int
	ChunkIndex  int
	Content     string
	Vector      []float32
	Metadata    models.EmbeddingMetadata
	CreatedAt   time.Time
}

type embeddingRepository struct{}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository() EmbeddingRepository {
	return &embeddingRepository{}
}

var _ EmbeddingRepository = (*embeddingRepository)(nil)

func corpusTable(corpus models.EmbeddingCorpus) (string, error) {
	switch corpus {
	case models.CorpusMetadata:
		return "metadata_embeddings", nil
	case models.CorpusBusinessLogic:
		return "business_logic_embeddings", nil
	case models.CorpusReferences:
		return "reference_embeddings", nil
	default:
		return "", fmt.Errorf("unknown embedding corpus: %s", corpus)
	}
}

func (r *embeddingRepository) SearchTables(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, content_type, table_name, content,
		       (embedding <=> $1) AS distance,
		       (1 - (embedding <=> $1)) AS similarity
		FROM metadata_embeddings
		WHERE user_id = $2 AND project_id = $3
		  AND content_type = 'table'
		  AND (1 - (embedding <=> $1)) >= $4
		ORDER BY embedding <=> $1
		LIMIT $5`

	rows, err := scope.Conn.Query(ctx, query,
		database.NewVector(vector), scope.UserID, scope.ProjectID, floor, topK)
	if err != nil {
		return nil, fmt.Errorf("search tables: %w", err)
	}
	defer rows.Close()

	var chunks []models.RetrievedChunk
	for rows.Next() {
		var c models.RetrievedChunk
		if err := rows.Scan(&c.ID, &c.ContentType, &c.TableName, &c.Content, &c.Distance, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan table chunk: %w", err)
		}
		c.IsPrimary = true
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *embeddingRepository) FetchTableDetails(ctx context.Context, vector []float32, primaryTables, allTables []string) ([]models.RetrievedChunk, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if len(allTables) == 0 {
		return nil, nil
	}

	// Primary-table rows sort ahead of FK-expanded related tables, then by
	// cosine distance.
	query := `
		SELECT id, content_type, table_name, content,
		       (embedding <=> $1) AS distance,
		       (1 - (embedding <=> $1)) AS similarity,
		       table_name = ANY($4) AS is_primary
		FROM metadata_embeddings
		WHERE user_id = $2 AND project_id = $3
		  AND content_type IN ('column', 'relationship')
		  AND table_name = ANY($5)
		ORDER BY CASE WHEN table_name = ANY($4) THEN 0 ELSE 1 END,
		         embedding <=> $1`

	rows, err := scope.Conn.Query(ctx, query,
		database.NewVector(vector), scope.UserID, scope.ProjectID, primaryTables, allTables)
	if err != nil {
		return nil, fmt.Errorf("fetch table details: %w", err)
	}
	defer rows.Close()

	var chunks []models.RetrievedChunk
	for rows.Next() {
		var c models.RetrievedChunk
		if err := rows.Scan(&c.ID, &c.ContentType, &c.TableName, &c.Content, &c.Distance, &c.Similarity, &c.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan detail chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *embeddingRepository) SearchBusinessLogic(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, rule_number, content,
		       (embedding <=> $1) AS distance,
		       (1 - (embedding <=> $1)) AS similarity
		FROM business_logic_embeddings
		WHERE user_id = $2 AND project_id = $3
		  AND (1 - (embedding <=> $1)) >= $4
		ORDER BY embedding <=> $1
		LIMIT $5`

	rows, err := scope.Conn.Query(ctx, query,
		database.NewVector(vector), scope.UserID, scope.ProjectID, floor, topK)
	if err != nil {
		return nil, fmt.Errorf("search business logic: %w", err)
	}
	defer rows.Close()

	var chunks []models.RetrievedChunk
	for rows.Next() {
		var c models.RetrievedChunk
		if err := rows.Scan(&c.ID, &c.RuleNumber, &c.Content, &c.Distance, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan business logic chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *embeddingRepository) SearchReferences(ctx context.Context, vector []float32, topK int, floor float64) ([]models.RetrievedChunk, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, chunk_index, content,
		       (embedding <=> $1) AS distance,
		       (1 - (embedding <=> $1)) AS similarity
		FROM reference_embeddings
		WHERE user_id = $2 AND project_id = $3
		  AND (1 - (embedding <=> $1)) >= $4
		ORDER BY embedding <=> $1
		LIMIT $5`

	rows, err := scope.Conn.Query(ctx, query,
		database.NewVector(vector), scope.UserID, scope.ProjectID, floor, topK)
	if err != nil {
		return nil, fmt.Errorf("search references: %w", err)
	}
	defer rows.Close()

	var chunks []models.RetrievedChunk
	for rows.Next() {
		var c models.RetrievedChunk
		if err := rows.Scan(&c.ID, &c.ChunkIndex, &c.Content, &c.Distance, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan reference chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *embeddingRepository) FindByContentHash(ctx context.Context, corpus models.EmbeddingCorpus, contentHash string) (*EmbeddingRow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	table, err := corpusTable(corpus)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, %s, content, metadata, created_at
		FROM %s
		WHERE user_id = $1 AND project_id = $2
		  AND metadata->>'content_hash' = $3
		LIMIT 1`, positionColumns(corpus), table)

	row := scope.Conn.QueryRow(ctx, query, scope.UserID, scope.ProjectID, contentHash)
	result, err := scanEmbeddingRow(corpus, row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by content hash: %w", err)
	}
	return result, nil
}

func (r *embeddingRepository) FindByPosition(ctx context.Context, corpus models.EmbeddingCorpus, pos EmbeddingPosition) (*EmbeddingRow, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	table, err := corpusTable(corpus)
	if err != nil {
		return nil, err
	}

	var row pgx.Row
	switch corpus {
	case models.CorpusMetadata:
		query := fmt.Sprintf(`
			SELECT id, document_id, %s, content, metadata, created_at
			FROM %s
			WHERE user_id = $1 AND project_id = $2
			  AND content_type = $3 AND table_name = $4
			LIMIT 1`, positionColumns(corpus), table)
		row = scope.Conn.QueryRow(ctx, query, scope.UserID, scope.ProjectID, pos.ContentType, pos.TableName)
	case models.CorpusBusinessLogic:
		query := fmt.Sprintf(`
			SELECT id, document_id, %s, content, metadata, created_at
			FROM %s
			WHERE user_id = $1 AND project_id = $2 AND rule_number = $3
			LIMIT 1`, positionColumns(corpus), table)
		row = scope.Conn.QueryRow(ctx, query, scope.UserID, scope.ProjectID, pos.RuleNumber)
	default:
		query := fmt.Sprintf(`
			SELECT id, document_id, %s, content, metadata, created_at
			FROM %s
			WHERE user_id = $1 AND project_id = $2 AND chunk_index = $3
			LIMIT 1`, positionColumns(corpus), table)
		row = scope.Conn.QueryRow(ctx, query, scope.UserID, scope.ProjectID, pos.ChunkIndex)
	}

	result, err := scanEmbeddingRow(corpus, row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by position: %w", err)
	}
	return result, nil
}

func (r *embeddingRepository) Insert(ctx context.Context, corpus models.EmbeddingCorpus, row *EmbeddingRow) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = time.Now()

	metaJSON, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	switch corpus {
	case models.CorpusMetadata:
		_, err = scope.Conn.Exec(ctx, `
			INSERT INTO metadata_embeddings
				(id, document_id, user_id, project_id, content_type, table_name, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			row.ID, row.DocumentID, scope.UserID, scope.ProjectID,
			row.ContentType, row.TableName, row.Content, database.NewVector(row.Vector), metaJSON, row.CreatedAt)
	case models.CorpusBusinessLogic:
		_, err = scope.Conn.Exec(ctx, `
			INSERT INTO business_logic_embeddings
				(id, document_id, user_id, project_id, rule_number, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			row.ID, row.DocumentID, scope.UserID, scope.ProjectID,
			row.RuleNumber, row.Content, database.NewVector(row.Vector), metaJSON, row.CreatedAt)
	case models.CorpusReferences:
		_, err = scope.Conn.Exec(ctx, `
			INSERT INTO reference_embeddings
				(id, document_id, user_id, project_id, chunk_index, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			row.ID, row.DocumentID, scope.UserID, scope.ProjectID,
			row.ChunkIndex, row.Content, database.NewVector(row.Vector), metaJSON, row.CreatedAt)
	default:
		return fmt.Errorf("unknown embedding corpus: %s", corpus)
	}
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func (r *embeddingRepository) Update(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, content string, vector []float32, meta models.EmbeddingMetadata) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	table, err := corpusTable(corpus)
	if err != nil {
		return err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, embedding = $2, metadata = $3
		WHERE id = $4 AND user_id = $5 AND project_id = $6`, table)

	tag, err := scope.Conn.Exec(ctx, query,
		content, database.NewVector(vector), metaJSON, id, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("embedding %s not found", id)
	}
	return nil
}

func (r *embeddingRepository) RelinkDocument(ctx context.Context, corpus models.EmbeddingCorpus, id uuid.UUID, documentID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	table, err := corpusTable(corpus)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET document_id = $1
		WHERE id = $2 AND user_id = $3 AND project_id = $4`, table)

	tag, err := scope.Conn.Exec(ctx, query, documentID, id, scope.UserID, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("relink embedding document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("embedding %s not found", id)
	}
	return nil
}

func (r *embeddingRepository) CountByCorpus(ctx context.Context) (map[models.EmbeddingCorpus]int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	counts := make(map[models.EmbeddingCorpus]int, len(models.ValidEmbeddingCorpora))
	for _, corpus := range models.ValidEmbeddingCorpora {
		table, err := corpusTable(corpus)
		if err != nil {
			return nil, err
		}
		var count int
		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s WHERE user_id = $1 AND project_id = $2`, table)
		if err := scope.Conn.QueryRow(ctx, query, scope.UserID, scope.ProjectID).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[corpus] = count
	}
	return counts, nil
}

func positionColumns(corpus models.EmbeddingCorpus) string {
	switch corpus {
	case models.CorpusMetadata:
		return "content_type, table_name"
	case models.CorpusBusinessLogic:
		return "rule_number"
	default:
		return "chunk_index"
	}
}

func scanEmbeddingRow(corpus models.EmbeddingCorpus, row pgx.Row) (*EmbeddingRow, error) {
	var result EmbeddingRow
	var metaJSON []byte
	var err error

	switch corpus {
	case models.CorpusMetadata:
		err = row.Scan(&result.ID, &result.DocumentID, &result.ContentType, &result.TableName,
			&result.Content, &metaJSON, &result.CreatedAt)
	case models.CorpusBusinessLogic:
		err = row.Scan(&result.ID, &result.DocumentID, &result.RuleNumber,
			&result.Content, &metaJSON, &result.CreatedAt)
	default:
		err = row.Scan(&result.ID, &result.DocumentID, &result.ChunkIndex,
			&result.Content, &metaJSON, &result.CreatedAt)
	}
	if err != nil {
		return nil, err
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &result.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &result, nil
}
