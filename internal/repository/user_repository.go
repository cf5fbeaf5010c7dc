package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/taskmanager/internal/models"
	"github.com/sirupsen/logrus"
)

var ErrAlreadyExists = errors.New("already exists")

// DynamoAPI is the subset of the DynamoDB client used by the repositories.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type UserRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type emailItem struct {
	UserID string `dynamodbav:"user_id"`
}

// Create stores the user together with an item reserving its email, so two
// users can never share an address.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.Email = models.NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(r.tableName),
					Item: map[string]types.AttributeValue{
						"PK":      &types.AttributeValueMemberS{Value: models.EmailPK(user.Email)},
						"SK":      &types.AttributeValueMemberS{Value: "METADATA"},
						"user_id": &types.AttributeValueMemberS{Value: user.ID},
					},
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("user %s: %w", user.Email, ErrAlreadyExists)
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// FindByID returns nil without error when the user does not exist.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	key := (&models.User{ID: id}).GetPK()

	result, err := r.getItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result, &user); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) FindActiveByID(ctx context.Context, id string) (*models.User, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil || user == nil || !user.IsActive() {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) FindActiveByEmail(ctx context.Context, email string) (*models.User, error) {
	result, err := r.getItem(ctx, models.EmailPK(models.NormalizeEmail(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to get email reservation: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	var ref emailItem
	if err := attributevalue.UnmarshalMap(result, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email reservation: %w", err)
	}
	return r.FindActiveByID(ctx, ref.UserID)
}

// SoftDelete marks the user DELETED; the record and its email stay reserved.
func (r *UserRepository) SoftDelete(ctx context.Context, id string) error {
	user := &models.User{ID: id}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
		},
		UpdateExpression:    aws.String("SET #status = :status, updated_at = :updated_at"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.UserStatusDeleted)},
			":updated_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var notFound *types.ConditionalCheckFailedException
		if errors.As(err, &notFound) {
			return nil
		}
		r.logger.WithError(err).Error("Failed to soft delete user in DynamoDB")
		return fmt.Errorf("failed to soft delete user: %w", err)
	}
	return nil
}

func (r *UserRepository) getItem(ctx context.Context, pk string) (map[string]types.AttributeValue, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		r.logger.WithError(err).WithField("pk", pk).Error("Failed to get item from DynamoDB")
		return nil, err
	}
	return result.Item, nil
}
